/*
包 metrics 提供基于 Prometheus 的引擎指标采集能力。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram 等 Prometheus 向量指标。

# 主要能力

  - 分发指标：按 provider/transport/outcome 统计请求数与耗时。
  - 凭据指标：按凭据统计成功调用次数。
  - 视频任务指标：终态计数（按 backend/state/kind）、任务耗时、轮询次数。
  - 后处理指标：拼图切分面板数、结构化解析成功/失败次数。

nil *Collector 上的所有 Record 方法都是空操作。
*/
package metrics
