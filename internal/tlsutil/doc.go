// Package tlsutil 集中管理出站 TLS：LLM 后端 HTTP 客户端与 Redis 连接
// 都只协商 TLS 1.2+ 的 AEAD 套件。
package tlsutil
