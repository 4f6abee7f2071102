// 版权所有 2024 ChatFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package declarative 把 YAML/JSON 场景文件变成可运行的群聊。
//
// 一个场景声明参与者（llm 或 static）、转移策略（explicit 状态流规则、
// graph、auto、round_robin）、max_rounds 与终止条件。YAMLLoader 读文件或目录，
// Strict() 拒绝未知键；ScenarioFactory 校验定义并构建 conversation.GroupChat；
// Registry 按名称保存已校验的场景，目录变化时整体 Reload。
//
//	def, err := declarative.NewYAMLLoader(declarative.Strict()).LoadFile("scenarios/triangle_tutor.yaml")
//	gc, err := declarative.NewScenarioFactory(provider, logger).Build(def)
//	res, err := scheduler.Run(ctx, gc, def.StartOf(""))
//
// 状态流规则中的 STOP 表示结束群聊。allow_repeat_speaker 缺省为 true，
// max_rounds 为 0 时取工厂的默认轮数。
package declarative
