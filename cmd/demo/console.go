// cmd/demo/console.go
package main

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/Corphon/ParallelTimelines/internal/models"
)

type commandKind int

const (
	commandChoose commandKind = iota
	commandReset
	commandCollapse
	commandRefresh
	commandQuit
)

type consoleCommand struct {
	kind     commandKind
	timeline int // 从 1 开始
	choice   int // 从 1 开始
}

// parseCommand 解析一行输入
func parseCommand(input string) (consoleCommand, error) {
	input = strings.ToLower(strings.TrimSpace(input))

	switch input {
	case "":
		return consoleCommand{kind: commandRefresh}, nil
	case "q", "quit", "exit":
		return consoleCommand{kind: commandQuit}, nil
	case "c", "collapse":
		return consoleCommand{kind: commandCollapse}, nil
	}

	if fields := strings.Fields(input); len(fields) == 2 && fields[0] == "x" {
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return consoleCommand{}, fmt.Errorf("无效的时间线序号: %s", fields[1])
		}
		return consoleCommand{kind: commandReset, timeline: n}, nil
	}

	timelinePart, choicePart, found := strings.Cut(input, ".")
	if !found {
		return consoleCommand{}, fmt.Errorf("无法识别的命令: %s", input)
	}
	timeline, err := strconv.Atoi(timelinePart)
	if err != nil {
		return consoleCommand{}, fmt.Errorf("无效的时间线序号: %s", timelinePart)
	}
	choice, err := strconv.Atoi(choicePart)
	if err != nil {
		return consoleCommand{}, fmt.Errorf("无效的选择序号: %s", choicePart)
	}
	return consoleCommand{kind: commandChoose, timeline: timeline, choice: choice}, nil
}

const cliBoxMaxWidth = 76

// renderSession 按顺序打印所有时间线卡片
func renderSession(view models.SessionView) {
	fmt.Printf("⏳ 时间线 %d/%d\n", view.Count, view.MaxTimelines)
	for _, card := range view.Timelines {
		printBox(cardTitle(card), cardContent(card), card.Color)
	}
}

func cardTitle(card models.TimelineView) string {
	if card.IsOutcome {
		return fmt.Sprintf("Timeline %d · Outcome", card.Index)
	}
	return fmt.Sprintf("Timeline %d · %s", card.Index, card.Question)
}

func cardContent(card models.TimelineView) string {
	var b strings.Builder

	if len(card.Path) > 0 {
		b.WriteString("Path: " + strings.Join(card.Path, " → ") + "\n\n")
	}

	if card.IsOutcome {
		b.WriteString(card.Outcome)
		return b.String()
	}

	b.WriteString(card.Description)
	b.WriteString("\n")
	for _, choice := range card.Choices {
		fmt.Fprintf(&b, "\n  %d.%d  %s", card.Index, choice.Index+1, choice.Text)
	}
	return b.String()
}

func printBox(title, content, color string) {
	wrappedLines := wrapContentForBox(content, cliBoxMaxWidth)
	maxWidth := utf8.RuneCountInString(title)
	for _, line := range wrappedLines {
		if w := utf8.RuneCountInString(line); w > maxWidth {
			maxWidth = w
		}
	}

	border := strings.Repeat("─", maxWidth+2)
	edge := colorize(color, "│")
	fmt.Println(colorize(color, "┌"+border+"┐"))
	if title != "" {
		fmt.Printf("%s %s %s\n", edge, padRight(title, maxWidth), edge)
		fmt.Println(colorize(color, "├"+border+"┤"))
	}
	if len(wrappedLines) == 0 {
		wrappedLines = []string{""}
	}
	for _, line := range wrappedLines {
		fmt.Printf("%s %s %s\n", edge, padRight(line, maxWidth), edge)
	}
	fmt.Println(colorize(color, "└"+border+"┘"))
}

// wrapContentForBox 按单词折行，超长单词按字符截断
func wrapContentForBox(content string, maxWidth int) []string {
	if maxWidth <= 0 {
		return []string{content}
	}

	var result []string
	for _, rawLine := range strings.Split(content, "\n") {
		indent := rawLine[:len(rawLine)-len(strings.TrimLeft(rawLine, " "))]
		words := strings.Fields(rawLine)
		if len(words) == 0 {
			result = append(result, "")
			continue
		}

		line := indent
		for _, word := range words {
			for utf8.RuneCountInString(word) > maxWidth {
				runes := []rune(word)
				if line != indent {
					result = append(result, line)
					line = indent
				}
				result = append(result, string(runes[:maxWidth]))
				word = string(runes[maxWidth:])
			}

			candidate := indent + word
			if line != indent {
				candidate = line + " " + word
			}
			if utf8.RuneCountInString(candidate) > maxWidth && line != indent {
				result = append(result, line)
				line = indent + word
				continue
			}
			line = candidate
		}
		result = append(result, line)
	}
	return result
}

func padRight(text string, width int) string {
	current := utf8.RuneCountInString(text)
	if current >= width {
		return text
	}
	return text + strings.Repeat(" ", width-current)
}

// colorize 用 24 位终端色渲染文本，颜色格式为 #rrggbb
func colorize(hex, text string) string {
	if len(hex) != 7 || hex[0] != '#' {
		return text
	}
	rgb, err := strconv.ParseUint(hex[1:], 16, 32)
	if err != nil {
		return text
	}
	return fmt.Sprintf("\x1b[38;2;%d;%d;%dm%s\x1b[0m", rgb>>16&0xff, rgb>>8&0xff, rgb&0xff, text)
}
