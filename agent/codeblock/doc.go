// 版权所有 2024 ChatFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package codeblock 从对话消息中提取围栏代码块并保存到工作目录。

# 概述

参与者在回复中使用 Markdown 围栏代码块给出代码，代码块第一行可以带一个
文件名标签，例如：

	// filename: server.js
	# filename: main.py
	-- filename: schema.sql
	<!-- filename: index.html -->

Extract 解析出所有代码块，Saver 将带文件名的代码块写入目录并拒绝逃逸
目录的路径。CaptureStream 缓冲打印输出并在刷新时通知监听器，AutoSaver
累积刷新的输出，在代码块完整后自动保存。

# 使用示例

	saver, _ := codeblock.NewSaver("./work", logger)
	auto := codeblock.NewAutoSaver(saver, logger)
	sched := conversation.NewScheduler(conversation.WithLogger(logger), conversation.WithObserver(auto.Observer()))
*/
package codeblock
