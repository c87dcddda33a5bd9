// Package config 提供 genstudio 的配置加载。
//
// 配置是一个显式的值：由 Loader 从默认值、YAML 文件和环境变量合成，
// 再传给 engine.New，包内没有全局单例。
package config
