package cmd

import (
	"log"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:     "video-transcoder",
	Short:   "视频转码编排服务",
	Long:    "接收主应用的转码请求，输出多码率 HLS 与 WebVTT 字幕，并在完成或失败时回调主应用",
	Version: "1.0.0",
}

var cfgFile string

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "配置文件路径（默认 ./data/config.yaml 或 ./config.yaml）")
}

// initConfig 读取配置文件和环境变量（如果设置）
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// 添加配置文件搜索路径
		viper.AddConfigPath("./data") // 相对于当前工作目录的 data 文件夹
		viper.AddConfigPath(".")      // 当前目录
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// 环境变量覆盖配置，例如 JWT_SECRET、STORAGE_HLS_BUCKET
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || cfgFile != "" {
			log.Println("配置文件读取失败:", err)
			os.Exit(1)
		}
		log.Println("未找到配置文件，使用默认配置与环境变量")
		return
	}
	log.Println("使用配置文件:", viper.ConfigFileUsed())
}

// watchConfig 配置文件变更时回调，仅日志级别支持热更新
func watchConfig(onChange func(e fsnotify.Event)) {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(onChange)
	viper.WatchConfig()
}
