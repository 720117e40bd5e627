package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"os-downloads/app/config"
	"os-downloads/app/database"
	"os-downloads/app/logger"
	"os-downloads/app/service"
	"os-downloads/app/store"

	"github.com/spf13/cobra"
)

var listStatus string

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "直接操作任务表",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出任务",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(ctx context.Context, m *service.DownloadManager) error {
			var scopes []store.Scope
			switch listStatus {
			case "active":
				scopes = append(scopes, store.NotCompleted())
			case "completed":
				scopes = append(scopes, store.Completed())
			case "failed":
				scopes = append(scopes, store.Failed())
			case "all":
			default:
				return fmt.Errorf("未知的状态过滤条件: %s", listStatus)
			}

			tasks, err := m.List(ctx, scopes...)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tPROGRESS\tGROUP\tURL\tFILE")
			for _, t := range tasks {
				progress := "-"
				if p := t.Progress(); p >= 0 {
					progress = strconv.Itoa(p) + "%"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", t.ID, t.Status, progress, t.GroupKey, t.URI, t.FilePath)
			}
			return w.Flush()
		})
	},
}

var tasksRetryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "重新下载失败或已完成的任务",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("无效的任务ID: %s", args[0])
		}
		return withManager(func(ctx context.Context, m *service.DownloadManager) error {
			if err := m.Retry(ctx, uint(id)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "任务 %d 已重新排队\n", id)
			return nil
		})
	},
}

var tasksCancelAllCmd = &cobra.Command{
	Use:   "cancel-all",
	Short: "取消所有未结束的任务",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(ctx context.Context, m *service.DownloadManager) error {
			n, err := m.CancelAll(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已取消 %d 个任务\n", n)
			return nil
		})
	},
}

var tasksClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "清除所有已结束的任务及其文件",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(ctx context.Context, m *service.DownloadManager) error {
			n, err := m.ClearCompleted(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已清除 %d 个任务\n", n)
			return nil
		})
	},
}

// withManager 打开数据库并在结束后关闭
func withManager(fn func(ctx context.Context, m *service.DownloadManager) error) error {
	cfg := config.Load()
	log := logger.New(config.LogConfig{Level: "warn", Format: cfg.Log.Format, Output: "stdout"})
	defer log.Close()

	if err := database.Init(cfg, log); err != nil {
		return err
	}
	defer database.Close()

	m := service.NewDownloadManager(store.New(database.GetDB(), log), log)
	return fn(context.Background(), m)
}

func init() {
	tasksListCmd.Flags().StringVar(&listStatus, "status", "all", "过滤条件: all、active、completed、failed")
	tasksCmd.AddCommand(tasksListCmd, tasksRetryCmd, tasksCancelAllCmd, tasksClearCmd)
	tasksCmd.SetOut(os.Stdout)
	rootCmd.AddCommand(tasksCmd)
}
