// Package tui renders a running launch group as an interactive table of
// children with a log pane for the selected child.
package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/Paintersrp/simlaunch/internal/launcher"
)

const (
	tableTitle          = "Children"
	logsTitle           = "Output"
	filterPageName      = "filter"
	defaultLogRetention = 500
	refreshInterval     = 500 * time.Millisecond
)

// Option configures UI behaviour.
type Option func(*UI)

// WithQuit sets the function invoked when the user quits. The launch driver
// uses it to terminate the group; the UI stops either way.
func WithQuit(fn func()) Option {
	return func(u *UI) {
		u.quit = fn
	}
}

// WithTitle names the launch in the table title.
func WithTitle(title string) Option {
	return func(u *UI) {
		u.title = title
	}
}

// UI coordinates the interactive status interface backed by tview. It
// implements launcher.Observer.
type UI struct {
	app    *tview.Application
	pages  *tview.Pages
	table  *tview.Table
	logs   *tview.TextView
	events chan event

	children map[string]*childState
	order    []string

	title       string
	visible     []string
	selected    string
	logsJSON    bool
	filter      string
	filterExpr  *regexp.Regexp
	logsFocused bool
	maxLogs     int
	quit        func()

	mu sync.RWMutex

	cancelMu sync.Mutex
	cancel   context.CancelFunc

	wg        sync.WaitGroup
	stopOnce  sync.Once
	done      chan struct{}
}

type eventKind int

const (
	eventStarted eventKind = iota
	eventOutput
	eventExited
	eventReady
)

type event struct {
	kind   eventKind
	at     time.Time
	label  string
	info   launcher.ChildInfo
	line   string
	code   int
	ready  bool
	detail string
}

type childState struct {
	label   string
	pid     int
	tty     bool
	started time.Time
	exited  time.Time
	running bool
	code    int
	ready   string
	message string
	lines   int

	logs []logLine
}

type logLine struct {
	Timestamp time.Time `json:"ts"`
	Label     string    `json:"label"`
	Message   string    `json:"msg"`
}

// New constructs a UI configured with the supplied options.
func New(opts ...Option) *UI {
	app := tview.NewApplication()
	table := tview.NewTable().SetFixed(1, 1).SetSelectable(true, false)
	table.SetBorder(true).SetTitle(tableTitle)

	logs := tview.NewTextView().SetDynamicColors(false).SetWrap(false)
	logs.SetBorder(true).SetTitle(logsTitle)
	logs.SetChangedFunc(func() {
		app.Draw()
	})

	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(table, 0, 2, true).
		AddItem(logs, 0, 3, false)

	pages := tview.NewPages().AddPage("main", flex, true, true)

	ui := newUI(app, pages, table, logs)
	for _, opt := range opts {
		opt(ui)
	}

	table.SetSelectionChangedFunc(func(row, column int) {
		ui.mu.Lock()
		defer ui.mu.Unlock()
		ui.syncSelection(row)
		ui.renderLogsLocked()
	})

	app.SetRoot(pages, true)
	app.SetInputCapture(ui.handleKey)

	ui.mu.Lock()
	ui.refreshTableLocked(time.Now())
	ui.mu.Unlock()

	return ui
}

func newUI(app *tview.Application, pages *tview.Pages, table *tview.Table, logs *tview.TextView) *UI {
	return &UI{
		app:      app,
		pages:    pages,
		table:    table,
		logs:     logs,
		events:   make(chan event, 1024),
		children: make(map[string]*childState),
		maxLogs:  defaultLogRetention,
		done:     make(chan struct{}),
	}
}

func (u *UI) ChildStarted(info launcher.ChildInfo) {
	u.send(event{kind: eventStarted, label: info.Label, info: info})
}

func (u *UI) ChildOutput(label, line string) {
	u.send(event{kind: eventOutput, label: label, line: line})
}

func (u *UI) ChildExited(label string, code int) {
	u.send(event{kind: eventExited, label: label, code: code})
}

// ReadyChanged records the outcome of a child's readiness gate.
func (u *UI) ReadyChanged(label string, ready bool, detail string) {
	u.send(event{kind: eventReady, label: label, ready: ready, detail: detail})
}

func (u *UI) send(evt event) {
	evt.at = time.Now()
	select {
	case u.events <- evt:
	case <-u.done:
	}
}

// Run starts the tview application and processes incoming events until Stop
// is invoked or the provided context is cancelled.
func (u *UI) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	u.cancelMu.Lock()
	u.cancel = cancel
	u.cancelMu.Unlock()

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.consumeEvents(ctx)
	}()

	go func() {
		<-ctx.Done()
		u.Stop()
	}()

	err := u.app.Run()

	u.cancelMu.Lock()
	cancel = u.cancel
	u.cancel = nil
	u.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}

	u.Stop()
	u.wg.Wait()

	return err
}

// Stop terminates the application loop and releases resources.
func (u *UI) Stop() {
	u.stopOnce.Do(func() {
		u.cancelMu.Lock()
		cancel := u.cancel
		u.cancel = nil
		u.cancelMu.Unlock()
		if cancel != nil {
			cancel()
		}
		u.app.Stop()
		close(u.done)
	})
}

func (u *UI) consumeEvents(ctx context.Context) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-u.events:
			if !ok {
				return
			}
			u.mu.Lock()
			updateLogs := u.applyEventLocked(evt)
			u.mu.Unlock()
			u.queueRefresh(updateLogs)
		case <-ticker.C:
			u.queueRefresh(false)
		}
	}
}

func (u *UI) handleKey(event *tcell.EventKey) *tcell.EventKey {
	if u.overlayActive() {
		return event
	}
	switch event.Key() {
	case tcell.KeyEnter:
		u.toggleFocus()
		return nil
	case tcell.KeyCtrlC:
		u.requestQuit()
		return nil
	case tcell.KeyRune:
		switch event.Rune() {
		case 'q', 'Q':
			u.requestQuit()
			return nil
		case '/':
			u.showFilterPrompt()
			return nil
		case 'j', 'J':
			u.toggleJSON()
			return nil
		}
	}
	return event
}

func (u *UI) overlayActive() bool {
	name, _ := u.pages.GetFrontPage()
	return name == filterPageName
}

func (u *UI) requestQuit() {
	if u.quit != nil {
		u.quit()
	}
	go u.Stop()
}

func (u *UI) toggleFocus() {
	if u.logsFocused {
		u.app.SetFocus(u.table)
	} else {
		u.app.SetFocus(u.logs)
	}
	u.logsFocused = !u.logsFocused
}

func (u *UI) toggleJSON() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.logsJSON = !u.logsJSON
	u.renderLogsLocked()
}

func (u *UI) showFilterPrompt() {
	u.mu.RLock()
	current := u.filter
	u.mu.RUnlock()

	input := tview.NewInputField().
		SetLabel("Label regex: ").
		SetText(current).
		SetFieldWidth(40)

	form := tview.NewForm().
		AddFormItem(input).
		AddButton("Apply", func() {
			u.applyFilter(input.GetText())
		}).
		AddButton("Cancel", func() {
			u.closeOverlay()
		})

	form.SetBorder(true).SetTitle("Filter Children")

	grid := tview.NewGrid().
		SetColumns(0, 60, 0).
		SetRows(0, 7, 0).
		AddItem(form, 1, 1, 1, 1, 0, 0, true)

	u.pages.AddPage(filterPageName, grid, true, true)
	u.app.SetFocus(input)
}

func (u *UI) closeOverlay() {
	u.pages.RemovePage(filterPageName)
	u.app.SetFocus(u.table)
	u.logsFocused = false
}

func (u *UI) applyFilter(expr string) {
	expr = strings.TrimSpace(expr)
	var re *regexp.Regexp
	if expr != "" {
		var err error
		re, err = regexp.Compile(expr)
		if err != nil {
			u.showErrorModal(fmt.Sprintf("Invalid filter: %v", err))
			return
		}
	}

	u.mu.Lock()
	u.filter = expr
	u.filterExpr = re
	u.refreshTableLocked(time.Now())
	u.renderLogsLocked()
	u.mu.Unlock()
	u.closeOverlay()
}

func (u *UI) showErrorModal(message string) {
	modal := tview.NewModal().
		SetText(message).
		AddButtons([]string{"OK"}).
		SetDoneFunc(func(buttonIndex int, buttonLabel string) {
			u.closeOverlay()
		})

	u.pages.RemovePage(filterPageName)
	u.pages.AddPage(filterPageName, modal, true, true)
}

// applyEventLocked folds evt into the child table and reports whether the
// log pane shows the affected child.
func (u *UI) applyEventLocked(evt event) bool {
	if evt.at.IsZero() {
		evt.at = time.Now()
	}

	state := u.children[evt.label]
	if state == nil {
		state = &childState{label: evt.label, ready: "-"}
		u.children[evt.label] = state
		u.order = append(u.order, evt.label)
	}

	switch evt.kind {
	case eventStarted:
		state.pid = evt.info.PID
		state.tty = evt.info.TTY
		state.started = evt.info.Started
		if state.started.IsZero() {
			state.started = evt.at
		}
		state.running = true
		state.message = strings.Join(evt.info.Args, " ")
	case eventOutput:
		state.lines++
		state.logs = append(state.logs, logLine{Timestamp: evt.at, Label: evt.label, Message: evt.line})
		if len(state.logs) > u.maxLogs {
			trim := len(state.logs) - u.maxLogs
			state.logs = append([]logLine(nil), state.logs[trim:]...)
		}
	case eventExited:
		state.running = false
		state.code = evt.code
		state.exited = evt.at
		state.message = formatExit(evt.code)
	case eventReady:
		if evt.ready {
			state.ready = "Yes"
		} else {
			state.ready = "No"
		}
		if evt.detail != "" {
			state.message = evt.detail
		}
	}

	return u.selected == "" || u.selected == evt.label
}

func (u *UI) queueRefresh(updateLogs bool) {
	u.app.QueueUpdateDraw(func() {
		u.mu.Lock()
		defer u.mu.Unlock()
		u.refreshTableLocked(time.Now())
		if updateLogs {
			u.renderLogsLocked()
		}
	})
}

func (u *UI) refreshTableLocked(now time.Time) {
	u.table.Clear()

	headers := []string{"LABEL", "PID", "STATE", "READY", "LINES", "UPTIME", "MESSAGE"}
	for col, header := range headers {
		cell := tview.NewTableCell(header).
			SetSelectable(false).
			SetAttributes(tcell.AttrBold)
		u.table.SetCell(0, col, cell)
	}

	labels := make([]string, 0, len(u.order))
	for _, label := range u.order {
		if u.filterExpr != nil && !u.filterExpr.MatchString(label) {
			continue
		}
		labels = append(labels, label)
	}
	u.visible = labels

	title := tableTitle
	if u.title != "" {
		title = fmt.Sprintf("%s [%s]", tableTitle, u.title)
	}
	if u.filter != "" {
		title = fmt.Sprintf("%s /%s/", title, u.filter)
	}
	u.table.SetTitle(title)

	for row, label := range labels {
		state := u.children[label]
		pid := "-"
		if state.pid > 0 {
			pid = fmt.Sprintf("%d", state.pid)
		}
		message := state.message
		if len(message) > 80 {
			message = message[:77] + "..."
		}

		values := []string{
			label,
			pid,
			formatState(state),
			state.ready,
			fmt.Sprintf("%d", state.lines),
			formatUptime(state, now),
			message,
		}
		for col, value := range values {
			cell := tview.NewTableCell(value)
			if col == 0 {
				cell = cell.SetReference(label)
			}
			if col == 2 {
				cell = cell.SetTextColor(stateColor(state))
			}
			u.table.SetCell(row+1, col, cell)
		}
	}

	u.ensureSelectionLocked()
}

func (u *UI) renderLogsLocked() {
	u.logs.Clear()
	var state *childState
	if u.selected != "" {
		state = u.children[u.selected]
	}
	if state == nil {
		u.logs.SetTitle(logsTitle)
		return
	}

	u.logs.SetTitle(fmt.Sprintf("%s (%s)", logsTitle, state.label))

	for _, line := range state.logs {
		if !u.logsJSON {
			fmt.Fprintf(u.logs, "%s %s\n", line.Timestamp.Format("15:04:05.000"), line.Message)
			continue
		}
		data, err := json.Marshal(line)
		if err != nil {
			fmt.Fprintf(u.logs, "{\"error\":%q}\n", err.Error())
			continue
		}
		fmt.Fprintf(u.logs, "%s\n", data)
	}
	u.logs.ScrollToEnd()
}

func (u *UI) ensureSelectionLocked() {
	if len(u.visible) == 0 {
		u.selected = ""
		u.table.Select(0, 0)
		return
	}

	idx := -1
	for i, label := range u.visible {
		if label == u.selected {
			idx = i
			break
		}
	}
	if idx < 0 {
		idx = 0
		u.selected = u.visible[0]
	}
	u.table.Select(idx+1, 0)
}

func (u *UI) syncSelection(row int) {
	if row <= 0 || row-1 >= len(u.visible) {
		return
	}
	u.selected = u.visible[row-1]
}

func formatState(state *childState) string {
	switch {
	case state.running && state.tty:
		return "Running (tty)"
	case state.running:
		return "Running"
	case state.exited.IsZero():
		return "-"
	case state.code == 0:
		return "Exited"
	default:
		return "Failed"
	}
}

func stateColor(state *childState) tcell.Color {
	switch {
	case state.running:
		return tcell.ColorAqua
	case state.exited.IsZero():
		return tcell.ColorDefault
	case state.code == 0:
		return tcell.ColorGreen
	default:
		return tcell.ColorRed
	}
}

func formatUptime(state *childState, now time.Time) string {
	if state.started.IsZero() {
		return "-"
	}
	end := now
	if !state.running && !state.exited.IsZero() {
		end = state.exited
	}
	return end.Sub(state.started).Truncate(time.Second).String()
}

// formatExit describes an exit code the way a shell would.
func formatExit(code int) string {
	switch {
	case code == 0:
		return "exited cleanly"
	case code < 0:
		return fmt.Sprintf("killed by signal %d", -code)
	default:
		return fmt.Sprintf("exited with code %d", code)
	}
}

var _ launcher.Observer = (*UI)(nil)
