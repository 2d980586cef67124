package tui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/wwwzy/ShopAgent/internal/cart"
	"github.com/wwwzy/ShopAgent/internal/service"
	"github.com/wwwzy/ShopAgent/internal/ui"
)

type ChatUI struct{}

func (u *ChatUI) Run(ctx context.Context, backend ui.ChatBackend, opts ui.ChatOptions) error {
	m := newChatModel(ctx, backend, opts)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// 回答按块逐步显示
const (
	streamChunk    = 24
	streamInterval = 40 * time.Millisecond
)

type role int

const (
	roleUser role = iota
	roleAssistant
	roleProducts
	roleError
)

type entry struct {
	role    role
	content string
}

type backendResultMsg struct {
	answer *service.Answer
	err    error
}

type streamTickMsg struct{}
type cancelMsg struct{}

var stdioMu sync.Mutex

type chatModel struct {
	ctx      context.Context
	backend  ui.ChatBackend
	opts     ui.ChatOptions
	threadID string

	entries []entry
	cart    []cart.Line

	width  int
	height int

	viewport   viewport.Model
	input      textinput.Model
	spinner    spinner.Model
	thinking   bool
	followTail bool

	streaming  bool
	streamIdx  int
	streamPos  int
	streamFull string

	renderer *glamour.TermRenderer
}

func newChatModel(ctx context.Context, backend ui.ChatBackend, opts ui.ChatOptions) chatModel {
	s := spinner.New()
	s.Spinner = spinner.Points

	ti := textinput.New()
	ti.Placeholder = "问问商品，或者让我把商品加入购物车"
	ti.Prompt = ""
	ti.Focus()

	vp := viewport.New(0, 0)
	vp.SetContent("")

	return chatModel{
		ctx:        ctx,
		backend:    backend,
		opts:       opts,
		threadID:   opts.ResolveThreadID(),
		viewport:   vp,
		input:      ti,
		spinner:    s,
		followTail: true,
		streamIdx:  -1,
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitCancel(m.ctx))
}

func waitCancel(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		<-ctx.Done()
		return cancelMsg{}
	}
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case cancelMsg:
		return m, tea.Quit

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		inputHeight := 3
		footerHeight := 1
		chatHeight := m.height - inputHeight - footerHeight
		if chatHeight < 1 {
			chatHeight = 1
		}

		m.viewport.Width = m.width
		m.viewport.Height = chatHeight

		m.input.Width = max(10, m.width-4)

		m.resetMarkdownRenderer()
		m.updateViewportContent(m.renderChat())
		return m, nil

	case spinner.TickMsg:
		if m.thinking {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case backendResultMsg:
		m = m.applyResult(msg)
		m.updateViewportContent(m.renderChat())
		if m.streaming {
			return m, streamTick()
		}
		return m, nil

	case streamTickMsg:
		if !m.streaming {
			return m, nil
		}
		m.streamPos = min(len(m.streamFull), m.streamPos+streamChunk)
		if m.streamPos >= len(m.streamFull) {
			m.streaming = false
		}
		m.updateViewportContent(m.renderChat())
		if m.streaming {
			return m, streamTick()
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "pgup", "pageup":
			m.viewport.PageUp()
			m.followTail = false
			return m, nil
		case "pgdown", "pagedown":
			m.viewport.PageDown()
			if m.viewport.AtBottom() {
				m.followTail = true
			}
			return m, nil
		}

		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)

		if msg.String() == "enter" {
			if m.thinking {
				return m, cmd
			}
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, cmd
			}
			switch strings.ToLower(text) {
			case "exit", "quit":
				return m, tea.Quit
			}

			m.entries = append(m.entries, entry{role: roleUser, content: text})
			m.followTail = true
			m.updateViewportContent(m.renderChat())

			m.input.SetValue("")
			m.thinking = true
			return m, tea.Batch(cmd, invokeBackend(m.ctx, m.backend, text, m.threadID))
		}

		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// applyResult 追加助手回复与引用商品，并开始逐段显示回复
func (m chatModel) applyResult(msg backendResultMsg) chatModel {
	m.thinking = false
	m.followTail = true
	if msg.err != nil {
		m.entries = append(m.entries, entry{role: roleError, content: fmt.Sprintf("发生错误：%v", msg.err)})
		return m
	}

	answer := strings.TrimSpace(msg.answer.Answer)
	if answer == "" {
		answer = "(无文本输出)"
	}
	m.entries = append(m.entries, entry{role: roleAssistant, content: answer})
	m.streaming = true
	m.streamIdx = len(m.entries) - 1
	m.streamFull = answer
	m.streamPos = min(len(answer), 32)

	if len(msg.answer.UsedImages) > 0 {
		var b strings.Builder
		for _, img := range msg.answer.UsedImages {
			fmt.Fprintf(&b, "%s  %s\n%s\n", formatPrice(img.Price), img.Description, img.ImageURL)
		}
		m.entries = append(m.entries, entry{role: roleProducts, content: strings.TrimRight(b.String(), "\n")})
	}
	m.cart = msg.answer.ShoppingCart
	return m
}

func (m chatModel) View() string {
	header := lipgloss.NewStyle().Bold(true).Render("ShopAgent Chat") +
		lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Render("  "+m.threadID)

	chat := m.viewport.View()
	footer := m.footerView()

	return lipgloss.JoinVertical(lipgloss.Left, header, chat, m.inputView(), footer)
}

func (m chatModel) footerView() string {
	left := "Enter 提问 · PgUp/PgDn 翻页 · Ctrl+C 离开"
	right := fmt.Sprintf("购物车 %d 件", cartCount(m.cart))
	if m.thinking {
		right = m.spinner.View() + " 正在挑选商品..."
	}
	style := lipgloss.NewStyle().Width(m.width).Padding(0, 1)
	return style.Render(lipgloss.JoinHorizontal(lipgloss.Left, left, lipgloss.NewStyle().Width(max(0, m.width-lipgloss.Width(left)-lipgloss.Width(right)-2)).Render(""), right))
}

func (m chatModel) inputView() string {
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Padding(0, 1).
		Width(max(1, m.input.Width+2)).
		Render(m.input.View())
	return box
}

func (m *chatModel) updateViewportContent(content string) {
	oldYOffset := m.viewport.YOffset
	m.viewport.SetContent(content)
	if m.followTail {
		m.viewport.GotoBottom()
		return
	}
	m.viewport.SetYOffset(oldYOffset)
}

func invokeBackend(ctx context.Context, backend ui.ChatBackend, query, threadID string) tea.Cmd {
	return func() tea.Msg {
		ans, err := askDiscardingStdIO(ctx, backend, query, threadID)
		return backendResultMsg{answer: ans, err: err}
	}
}

// askDiscardingStdIO 调用期间屏蔽标准输出，避免第三方库的打印破坏终端画面
func askDiscardingStdIO(ctx context.Context, backend ui.ChatBackend, query, threadID string) (*service.Answer, error) {
	devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		return backend.Ask(ctx, query, threadID)
	}
	defer devNull.Close()

	stdioMu.Lock()
	oldStdout := os.Stdout
	oldStderr := os.Stderr
	os.Stdout = devNull
	os.Stderr = devNull
	stdioMu.Unlock()

	ans, askErr := backend.Ask(ctx, query, threadID)

	stdioMu.Lock()
	os.Stdout = oldStdout
	os.Stderr = oldStderr
	stdioMu.Unlock()

	return ans, askErr
}

func streamTick() tea.Cmd {
	return tea.Tick(streamInterval, func(time.Time) tea.Msg { return streamTickMsg{} })
}

func (m *chatModel) resetMarkdownRenderer() {
	if m.width <= 0 {
		return
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(m.bubbleMaxContentWidth()),
	)
	if err == nil {
		m.renderer = r
	}
}

func (m chatModel) renderChat() string {
	if m.width <= 0 {
		m.width = 80
	}

	var b strings.Builder
	for i, e := range m.entries {
		content := e.content
		if m.streaming && m.streamIdx == i {
			content = m.streamFull[:m.streamPos]
			if strings.TrimSpace(content) == "" {
				content = "…"
			}
		}

		var line string
		switch e.role {
		case roleUser:
			line = m.renderUser(content)
		case roleAssistant:
			line = m.renderAssistant(content)
		case roleProducts:
			line = m.renderPanel("PRODUCTS", content)
		default:
			line = m.renderPanel("ERROR", content)
		}
		b.WriteString(line)
		b.WriteString("\n\n")
	}
	if m.opts.ShowCart && len(m.cart) > 0 {
		b.WriteString(m.renderPanel("CART", renderCart(m.cart)))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderCart(lines []cart.Line) string {
	var b strings.Builder
	var total float64
	for _, l := range lines {
		fmt.Fprintf(&b, "%s x%d  %s\n", l.ProductID, l.Quantity, formatPrice(l.TotalPrice))
		if l.TotalPrice != nil {
			total += *l.TotalPrice
		}
	}
	fmt.Fprintf(&b, "合计 $%.2f", total)
	return b.String()
}

func cartCount(lines []cart.Line) int {
	n := 0
	for _, l := range lines {
		n += l.Quantity
	}
	return n
}

func formatPrice(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("$%.2f", *p)
}

func (m chatModel) bubbleMaxContentWidth() int {
	if m.width <= 0 {
		return 72
	}
	return max(20, m.width-8)
}

func (m chatModel) desiredContentWidth(s string) int {
	w := max(10, maxLineWidth(s))
	return min(m.bubbleMaxContentWidth(), w)
}

func (m chatModel) wrapToWidth(s string, width int) string {
	if width <= 0 {
		return s
	}
	return lipgloss.NewStyle().Width(width).Render(s)
}

func maxLineWidth(s string) int {
	s = strings.TrimRight(s, "\n")
	if strings.TrimSpace(s) == "" {
		return 0
	}
	maxW := 0
	for _, line := range strings.Split(s, "\n") {
		if w := lipgloss.Width(strings.TrimRight(line, " ")); w > maxW {
			maxW = w
		}
	}
	return maxW
}

func (m chatModel) renderAssistant(content string) string {
	md := content
	if m.renderer != nil && strings.TrimSpace(md) != "" {
		if rendered, err := m.renderer.Render(md); err == nil {
			md = strings.TrimRight(rendered, "\n")
		}
	}
	md = m.wrapToWidth(md, m.desiredContentWidth(md))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("69")).
		Padding(0, 1).
		MaxWidth(max(20, m.width-4)).
		Render(md)
}

func (m chatModel) renderUser(content string) string {
	content = m.wrapToWidth(content, m.desiredContentWidth(content))
	bubble := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("212")).
		Padding(0, 1).
		MaxWidth(max(20, m.width-4)).
		Render(content)
	return lipgloss.NewStyle().Width(m.width).Align(lipgloss.Right).Render(bubble)
}

func (m chatModel) renderPanel(label, body string) string {
	if strings.TrimSpace(body) == "" {
		body = "(无内容)"
	}
	body = m.wrapToWidth(body, m.desiredContentWidth(body))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Foreground(lipgloss.Color("244")).
		Padding(0, 1).
		MaxWidth(max(20, m.width-4)).
		Render(label + "\n" + body)
}
