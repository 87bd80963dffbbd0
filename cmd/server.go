package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"video-transcoder/app/server"
	"video-transcoder/app/service"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动 HTTP 服务、转码队列和定时维护任务",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := bootstrap(context.Background())
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		log := a.log
		defer a.close()

		a.queue.Start()

		scheduler, err := service.NewMaintenanceScheduler(a.cfg, a.queue, log)
		if err != nil {
			log.Fatalf("创建定时维护任务失败: %v", err)
		}
		scheduler.Start()

		// 仅日志级别支持热更新，其余配置需要重启
		watchConfig(func(e fsnotify.Event) {
			level := viper.GetString("log.level")
			log.SetLevel(level)
			log.Infof("配置文件已变更: %s，日志级别: %s", e.Name, level)
		})

		srv := server.New(a.cfg, log, a.service, a.hls, a.queue)

		// 在协程中启动服务器
		go func() {
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("启动服务器失败: %v", err)
			}
		}()
		log.Infof("服务器已启动，端口: %s", a.cfg.Server.Port)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info("收到关闭信号，正在关闭服务器...")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Errorf("服务器关闭失败: %v", err)
		}

		// 正在执行的转码会被取消，任务回到待处理状态，不计入尝试次数
		a.queue.Stop()
		scheduler.Stop()
		log.Info("服务器已退出")
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
