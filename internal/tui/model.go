package tui

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"docqa/internal/domain"
	"docqa/internal/loader"
	"docqa/internal/session"
)

// Orchestrator is the UI-facing subset of session.Orchestrator.
type Orchestrator interface {
	SubmitDocuments(ctx context.Context, s *session.Session, uploads []domain.Upload) error
	Ask(ctx context.Context, s *session.Session, req session.QueryRequest) error
	ClearMessages(ctx context.Context, s *session.Session)
	ResetIndex(ctx context.Context, s *session.Session) bool
}

// CollectFunc turns user-entered paths or globs into uploads.
type CollectFunc func(patterns []string) ([]domain.Upload, error)

// Options configures what the UI offers.
type Options struct {
	Models        []string
	APIKeyEnv     string
	APIKeyPresent bool
	Telemetry     string
	InitialFiles  []string
	Collect       CollectFunc
}

type inputMode int

const (
	modeQuery inputMode = iota
	modeUpload
)

const thresholdStep = 0.05

// opDoneMsg reports the end of a background orchestrator call.
type opDoneMsg struct {
	op      string
	uploads []domain.Upload
	err     error
}

// Model is the Bubble Tea model for the chat UI.
type Model struct {
	orch     Orchestrator
	session  *session.Session
	opts     Options
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	mode     inputMode
	busy     bool
	pending  []string
	files    []domain.Upload
	status   string
	ready    bool
	width    int
}

// New creates the UI for one session. Files in opts.InitialFiles are
// submitted as soon as the program starts.
func New(orch Orchestrator, s *session.Session, opts Options) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Focus()
	ti.CharLimit = 0
	sp := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(accentStyle))
	// only page keys scroll; everything else is typed into the input
	vp := viewport.New(0, 0)
	vp.KeyMap = viewport.KeyMap{
		PageDown: key.NewBinding(key.WithKeys("pgdown")),
		PageUp:   key.NewBinding(key.WithKeys("pgup")),
	}
	m := Model{
		orch:     orch,
		session:  s,
		opts:     opts,
		input:    ti,
		viewport: vp,
		spinner:  sp,
		status:   "Upload documents with ctrl+o to get started.",
	}
	if len(opts.InitialFiles) > 0 {
		m.pending = opts.InitialFiles
		m.busy = true
		m.status = "Processing documents..."
	}
	m.setPlaceholder()
	return m
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, m.spinner.Tick}
	if len(m.pending) > 0 {
		cmds = append(cmds, m.submitCmd(m.pending))
	}
	return tea.Batch(cmds...)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		m.width = msg.Width
		_, ih := inputBoxStyle.GetFrameSize()
		reserved := 2 + 1 + 1 + 1 + ih + 1 // header, status, files, help, input box
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved)
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.busy {
			m.refresh()
		}
		return m, cmd

	case opDoneMsg:
		m.busy = false
		m.pending = nil
		if msg.uploads != nil {
			m.files = msg.uploads
		}
		// a deferred reset leaves no index and no transcript behind
		if m.session.State() == session.StateEmpty && len(m.session.Messages()) == 0 {
			m.files = nil
		}
		m.status = m.doneStatus(msg)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		if next, cmd, handled := m.handleKey(msg); handled {
			return next, cmd
		}
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd, bool) {
	ctx := context.Background()
	switch msg.String() {
	case "ctrl+o":
		if m.mode == modeUpload {
			m.mode = modeQuery
		} else {
			m.mode = modeUpload
		}
		m.input.SetValue("")
		m.setPlaceholder()
		return m, nil, true

	case "tab":
		m.cycleModel()
		return m, nil, true

	case "ctrl+up":
		m.adjustThreshold(thresholdStep)
		return m, nil, true
	case "ctrl+down":
		m.adjustThreshold(-thresholdStep)
		return m, nil, true
	case "+", "=":
		if m.input.Value() == "" {
			m.adjustThreshold(thresholdStep)
			return m, nil, true
		}
	case "-":
		if m.input.Value() == "" {
			m.adjustThreshold(-thresholdStep)
			return m, nil, true
		}

	case "ctrl+l":
		m.orch.ClearMessages(ctx, m.session)
		m.status = "Chat cleared."
		m.refresh()
		return m, nil, true

	case "ctrl+r":
		if m.orch.ResetIndex(ctx, m.session) {
			m.status = "Reset queued until the current operation finishes."
		} else {
			m.files = nil
			m.status = "Index reset. Upload new documents with ctrl+o."
		}
		m.refresh()
		return m, nil, true

	case "enter":
		return m.submitInput()
	}
	return m, nil, false
}

func (m Model) submitInput() (Model, tea.Cmd, bool) {
	value := strings.TrimSpace(m.input.Value())
	if value == "" {
		return m, nil, true
	}
	if m.busy {
		m.status = "Please wait for the current operation to finish."
		return m, nil, true
	}

	if m.mode == modeUpload {
		if m.session.State() != session.StateEmpty {
			m.status = "An index already exists. Reset it with ctrl+r before uploading new documents."
			return m, nil, true
		}
		patterns := strings.Fields(value)
		m.input.SetValue("")
		m.mode = modeQuery
		m.setPlaceholder()
		m.busy = true
		m.status = "Processing documents..."
		return m, tea.Batch(m.submitCmd(patterns), m.spinner.Tick), true
	}

	if m.session.State() != session.StateReady {
		m.status = "Upload documents first (ctrl+o)."
		return m, nil, true
	}
	cfg := m.session.Config()
	req := session.QueryRequest{Text: value, Threshold: cfg.Threshold, Model: cfg.Model}
	m.input.SetValue("")
	m.busy = true
	m.status = "Searching for information..."
	return m, tea.Batch(m.askCmd(req), m.spinner.Tick), true
}

func (m Model) submitCmd(patterns []string) tea.Cmd {
	orch, s, collect := m.orch, m.session, m.opts.Collect
	return func() tea.Msg {
		uploads, err := collect(patterns)
		if err != nil {
			return opDoneMsg{op: "upload", err: err}
		}
		return opDoneMsg{op: "upload", uploads: uploads, err: orch.SubmitDocuments(context.Background(), s, uploads)}
	}
}

func (m Model) askCmd(req session.QueryRequest) tea.Cmd {
	orch, s := m.orch, m.session
	return func() tea.Msg {
		return opDoneMsg{op: "ask", err: orch.Ask(context.Background(), s, req)}
	}
}

func (m Model) doneStatus(msg opDoneMsg) string {
	if msg.err != nil {
		return "Error: " + msg.err.Error()
	}
	snap := m.session.Snapshot()
	switch {
	case msg.op == "upload" && snap.State == session.StateReady:
		return fmt.Sprintf("Indexed %d documents (%d chunks). Ask away.", snap.Documents, snap.Chunks)
	case msg.op == "upload":
		return "Document processing failed. Check the chat for details."
	case snap.State == session.StateEmpty:
		return "Index reset. Upload new documents with ctrl+o."
	}
	return "Ready."
}

func (m *Model) cycleModel() {
	if len(m.opts.Models) == 0 {
		return
	}
	current := m.session.Config().Model
	next := m.opts.Models[0]
	for i, name := range m.opts.Models {
		if name == current {
			next = m.opts.Models[(i+1)%len(m.opts.Models)]
			break
		}
	}
	m.session.SetModel(next)
	m.status = "Model: " + next
}

func (m *Model) adjustThreshold(delta float64) {
	t := m.session.Config().Threshold + delta
	t = math.Round(t*100) / 100
	t = math.Min(1, math.Max(0, t))
	_ = m.session.SetThreshold(t)
	m.status = fmt.Sprintf("Similarity threshold: %.2f", t)
}

func (m *Model) setPlaceholder() {
	if m.mode == modeUpload {
		m.input.Placeholder = "File paths or globs (.pdf .docx .txt), then Enter"
		return
	}
	m.input.Placeholder = "Ask a question about your documents"
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderMessages())
	m.viewport.GotoBottom()
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := titleStyle.Render("📚 Document Q&A") + "  " + subtitleStyle.Render("Upload documents and ask questions about them")
	body := m.viewport.View()
	input := inputBoxStyle.Render(m.input.View())
	status := m.status
	if m.busy {
		status = m.spinner.View() + " " + status
	}
	return strings.Join([]string{
		header,
		m.statusLine(),
		m.filesLine(),
		body,
		input,
		statusStyle.Render(status),
		helpStyle.Render("enter send · ctrl+o upload · tab model · +/- threshold · ctrl+l clear · ctrl+r reset · ctrl+c quit"),
	}, "\n")
}

func (m Model) statusLine() string {
	snap := m.session.Snapshot()
	api := okStyle.Render("API ✓")
	if !m.opts.APIKeyPresent {
		api = errorStyle.Render("API ✗ missing " + m.opts.APIKeyEnv)
	}
	tel := m.opts.Telemetry
	if tel == "" {
		tel = "off"
	}
	parts := []string{
		api,
		"telemetry " + tel,
		"model " + snap.Config.Model,
		fmt.Sprintf("threshold %.2f", snap.Config.Threshold),
		snap.State.String(),
	}
	if snap.Chunks > 0 {
		parts = append(parts, fmt.Sprintf("%d docs / %d chunks", snap.Documents, snap.Chunks))
	}
	if snap.ResetPending {
		parts = append(parts, "reset pending")
	}
	return mutedStyle.Render(strings.Join(parts, " · "))
}

// filesLine lists the uploads of the current index with their size in KB.
func (m Model) filesLine() string {
	if len(m.files) == 0 {
		return mutedStyle.Render("No files uploaded.")
	}
	entries := make([]string, len(m.files))
	for i, u := range m.files {
		entries[i] = fmt.Sprintf("%s %s (%.2f KB)", fileIcon(u.Filename), u.Filename, float64(u.Size())/1024)
	}
	return mutedStyle.Render("Uploaded files: " + strings.Join(entries, " · "))
}

func fileIcon(filename string) string {
	switch loader.Extension(filename) {
	case loader.FormatPDF:
		return "📕"
	case loader.FormatDOCX:
		return "📘"
	case loader.FormatTXT:
		return "📝"
	}
	return "📄"
}

func (m Model) renderMessages() string {
	msgs := m.session.Messages()
	if len(msgs) == 0 {
		return mutedStyle.Render("No messages yet.")
	}
	width := max(20, m.viewport.Width-2)
	blocks := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		blocks = append(blocks, renderMessage(msg, width))
	}
	return strings.Join(blocks, "\n\n")
}

func renderMessage(msg domain.Message, width int) string {
	label, style := "Assistant", assistantStyle
	switch {
	case msg.Error:
		label, style = "Assistant", errorMessageStyle
	case msg.Role == domain.RoleUser:
		label, style = "You", userStyle
	}
	return labelStyle.Render(label) + "\n" + style.Width(width).Render(msg.Content)
}

var (
	primary = lipgloss.Color("#4A56A6")
	accent  = lipgloss.Color("#42A5F5")

	titleStyle        = lipgloss.NewStyle().Bold(true).Foreground(primary)
	subtitleStyle     = lipgloss.NewStyle().Foreground(accent)
	accentStyle       = lipgloss.NewStyle().Foreground(accent)
	mutedStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle           = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	statusStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	helpStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	labelStyle        = lipgloss.NewStyle().Bold(true).Foreground(primary)
	inputBoxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(primary).Padding(0, 1)
	userStyle         = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), false, false, false, true).BorderForeground(accent).PaddingLeft(1)
	assistantStyle    = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), false, false, false, true).BorderForeground(primary).PaddingLeft(1)
	errorMessageStyle = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), false, false, false, true).BorderForeground(lipgloss.Color("9")).Foreground(lipgloss.Color("9")).PaddingLeft(1)
)

