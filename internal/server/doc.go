// 版权所有 2024 FusionRAG Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理 FusionRAG 进程的两个 HTTP 监听器：检索 API 与
Prometheus 指标端点。

# 概述

Manager 封装单个 net/http.Server 的监听、服务、关闭与错误传播；
Group 把 API 和 metrics 监听器当作一个整体，任一启动失败整体
回滚，任一异常退出触发整组优雅关闭。内置 SIGINT/SIGTERM 信号
处理。

# 核心类型

  - Manager：单监听器生命周期管理，持有 http.Server、net.Listener
    与异步错误通道，提供 Start/Shutdown/BoundAddr/IsRunning。
  - Config：监听器配置，含名称（出现在日志里）、监听地址、
    读写超时、空闲超时、最大请求头大小与优雅关闭超时。
  - Group：监听器组，提供 Start/Shutdown/WaitForShutdown。

# 主要能力

  - 非阻塞启动：Start 在后台 goroutine 中运行服务，主线程不阻塞。
  - 启动回滚：Group.Start 中任一监听器失败时，已启动的被关闭。
  - 优雅关闭：Shutdown 在配置的超时内完成请求排空与连接释放。
  - 信号监听：Group.WaitForShutdown 监听 SIGINT/SIGTERM 与各
    监听器的异步错误，之后关闭整组。
  - 端口发现：BoundAddr 返回实际绑定地址，":0" 配置下可取真实端口。
*/
package server
