// cmd/demo/main.go
package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/Corphon/ParallelTimelines/internal/config"
	"github.com/Corphon/ParallelTimelines/internal/models"
	"github.com/Corphon/ParallelTimelines/internal/services"
	"github.com/Corphon/ParallelTimelines/internal/story"
	"github.com/Corphon/ParallelTimelines/internal/utils"
)

func main() {
	fmt.Println("🚀 Parallel Timelines Console")
	fmt.Println("=================================")

	cfg, err := config.Load()
	if err != nil {
		log.Printf("❌ 加载配置失败: %v", err)
		return
	}

	// 控制台只输出错误日志，避免打断故事画面
	logCfg := cfg.LoggerConfig()
	logCfg.Level = "error"
	if err := utils.InitLogger(logCfg); err != nil {
		log.Printf("⚠️ 无法初始化结构化日志: %v", err)
	}
	defer utils.GetLogger().Sync()

	graph, err := story.LoadFile(cfg.Story.File)
	if err != nil {
		log.Printf("❌ 加载故事图失败: %v", err)
		return
	}

	sessions := services.NewSessionService(graph, services.SessionServiceOptions{
		TTL:           cfg.Session.TTL,
		SweepInterval: cfg.Session.SweepInterval,
	})
	defer sessions.Close()

	view := sessions.Create()
	scanner := bufio.NewScanner(os.Stdin)

	for {
		renderSession(view)
		printHelp(view)

		input, ok := getUserInput(scanner, "> ")
		if !ok {
			fmt.Println("👋 再见")
			return
		}

		cmd, err := parseCommand(input)
		if err != nil {
			fmt.Printf("⚠️ %v\n\n", err)
			continue
		}

		next, err := execute(sessions, view, cmd)
		if err != nil {
			fmt.Printf("⚠️ %v\n\n", err)
			continue
		}
		if next == nil {
			fmt.Println("👋 再见")
			return
		}
		view = *next
		fmt.Println()
	}
}

// execute 执行一条命令，返回 nil 表示退出
func execute(sessions *services.SessionService, view models.SessionView, cmd consoleCommand) (*models.SessionView, error) {
	switch cmd.kind {
	case commandQuit:
		return nil, nil

	case commandRefresh:
		return &view, nil

	case commandChoose:
		card, err := cardAt(view, cmd.timeline)
		if err != nil {
			return nil, err
		}
		next, result, err := sessions.ChooseIndex(view.SessionID, card.ID, cmd.choice-1)
		if err != nil {
			return nil, err
		}
		if result.Forked != nil {
			fmt.Printf("✨ 时间线分裂：另一个你选择了 \"%s\"\n", result.Forked.Path[len(result.Forked.Path)-1])
		}
		return &next, nil

	case commandReset:
		card, err := cardAt(view, cmd.timeline)
		if err != nil {
			return nil, err
		}
		next, err := sessions.ResetTimeline(view.SessionID, card.ID)
		if err != nil {
			return nil, err
		}
		return &next, nil

	case commandCollapse:
		next, err := sessions.ResetAll(view.SessionID)
		if err != nil {
			return nil, err
		}
		fmt.Println("🌀 所有时间线已坍缩")
		return &next, nil
	}

	return nil, fmt.Errorf("未知命令")
}

// cardAt 按从 1 开始的序号取时间线
func cardAt(view models.SessionView, index int) (models.TimelineView, error) {
	if index < 1 || index > len(view.Timelines) {
		return models.TimelineView{}, fmt.Errorf("时间线 %d 不存在，当前共有 %d 条", index, len(view.Timelines))
	}
	return view.Timelines[index-1], nil
}

// 获取用户输入，输入结束时返回 false
func getUserInput(scanner *bufio.Scanner, prompt string) (string, bool) {
	fmt.Print(prompt)
	if !scanner.Scan() {
		return "", false
	}
	return strings.TrimSpace(scanner.Text()), true
}

func printHelp(view models.SessionView) {
	parts := []string{"<时间线>.<选择> 做出选择（如 1.2）"}
	if view.Count > 1 {
		parts = append(parts, "x <时间线> 关闭时间线", "c 坍缩全部")
	}
	parts = append(parts, "q 退出")
	fmt.Println(strings.Join(parts, " | "))
}
