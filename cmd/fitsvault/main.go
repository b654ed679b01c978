// Package main 是 fitsvault 命令行入口: serve、worker 与运维子命令.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/yeisme/fitsvault/pkg/cmd"
)

//	@title			FitsVault API
//	@version		1.0
//	@description	FITS 观测数据归档: 目录检索、定标匹配、文件下载与上传、头信息修改以及后台队列处理.

//	@license.name	MIT
//	@license.url	https://opensource.org/license/mit/

//	@contact.name	yeisme
//	@contact.email	yefun2004@gmail.com.

//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := cmd.Execute(ctx)

	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "fitsvault:", err)
		os.Exit(1)
	}
}
