/*
Package main 提供 genstudio 命令行入口。

# 概述

cmd/genstudio 是生成引擎的运维入口：从 YAML/环境变量/.env 加载配置，
构造凭据仓库（配置 + 可选数据库）、日志、遥测与指标，然后执行子命令。

# 子命令

  - resolve         打印模型 ID 解析出的 Provider，--list 列出内置模型表
  - generate        按角色发送一次生成请求，图像结果写入 --out
  - structured      JSON 模式生成并修复解析，输出格式化 JSON
  - grid            生成拼图并切分为面板文件
  - video           提交视频任务并等待终态
  - serve-metrics   暴露 /metrics、/healthz、/credentials 直到收到信号
  - version         显示版本信息

构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置。
*/
package main
