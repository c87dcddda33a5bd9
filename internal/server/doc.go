/*
包 server 管理 genstudio 的指标 HTTP 服务：/metrics 暴露 Prometheus
指标，/healthz 返回存活状态，/credentials 返回凭据用量快照。

Manager 封装 net/http.Server，Start 非阻塞启动，Run 阻塞到 ctx 结束后
在 ShutdownTimeout 内优雅关闭，监听或服务失败通过返回值传出。
*/
package server
