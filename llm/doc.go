/*
包 llm 提供生成引擎的核心领域类型：模型角色、Provider 分类、请求与结果、
凭据抽象和统一错误语义。

# 概述

上层只面对 [GenerationRequest] 与 [GenerationResult]。具体厂商协议由
llm/providers 下的各传输层实现，选择哪个传输层由 llm/dispatch 决定。

# 核心类型

  - [ModelRole]：脚本分析、图像、视频、音频、对话五类角色
  - [ProviderKind]：封闭的厂商集合，由 [ResolveProvider] 从模型 ID 推断
  - [Credential] / [CredentialStore]：凭据与用量上报
  - [Transport]：同步生成传输层接口
  - [Error] / [ErrorKind]：归一化错误，[Classify] 负责把任意错误映射到分类

# 模型解析

[ResolveProvider] 大小写不敏感且总有结果：静态表精确匹配优先，
其次是 relay/local 等代理标记，然后按厂商族名匹配，最后回落到 other。

# 凭据覆盖

[WithCredentialOverride] 允许单次调用覆盖凭据，覆盖值只经 context 传递。
*/
package llm
