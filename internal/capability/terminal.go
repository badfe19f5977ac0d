package capability

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"wapair/util"
)

// Palette shared by the terminal UI.
var (
	colorGreen = lipgloss.Color("#98C379")
	colorRed   = lipgloss.Color("#E06C75")
	colorBlue  = lipgloss.Color("#61AFEF")
	colorMuted = lipgloss.Color("#636B78")
	colorFrame = lipgloss.Color("#3F4451")
)

type styles struct {
	panel lipgloss.Style
	title lipgloss.Style
	ok    lipgloss.Style
	fail  lipgloss.Style
	muted lipgloss.Style
}

func newStyles(r *lipgloss.Renderer, color bool) styles {
	s := styles{
		panel: r.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1),
		title: r.NewStyle().Bold(true),
		ok:    r.NewStyle().Bold(true),
		fail:  r.NewStyle().Bold(true),
		muted: r.NewStyle(),
	}
	if color {
		s.panel = s.panel.BorderForeground(colorFrame)
		s.title = s.title.Foreground(colorBlue)
		s.ok = s.ok.Foreground(colorGreen)
		s.fail = s.fail.Foreground(colorRed)
		s.muted = s.muted.Foreground(colorMuted)
	}
	return s
}

// Terminal renders pairing progress as styled lines on a writer and
// exports each QR code to an image file the user can open and scan.
type Terminal struct {
	out    io.Writer
	qrPath string
	logger *util.Logger
	style  styles

	mu      sync.Mutex
	codes   int
	written bool
	busy    bool
}

// NewTerminal returns a terminal UI writing to out.  qrPath is where
// inline code images are saved; empty disables the export.
func NewTerminal(out io.Writer, qrPath string, noColor bool, logger *util.Logger) *Terminal {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	r := lipgloss.NewRenderer(out)
	return &Terminal{
		out:    out,
		qrPath: qrPath,
		logger: logger.Named("ui"),
		style:  newStyles(r, !noColor),
	}
}

// ShowQR implements [UI].
func (t *Terminal) ShowQR(image string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.codes++
	t.busy = true

	var body string
	switch {
	case IsImageURL(image):
		body = "Open " + image + "\nand scan the code with your phone."
	case t.qrPath == "":
		body = fmt.Sprintf("Code received (%d bytes); set --qr-out to save it.", len(image))
	default:
		n, err := WriteImage(t.qrPath, image)
		if err != nil {
			t.logger.Warn("cannot export QR code: %v", err)
			body = "Code received but could not be saved: " + err.Error()
			break
		}
		t.written = true
		t.logger.Debug("wrote %d bytes to %s", n, t.qrPath)
		body = "Open " + t.qrPath + "\nand scan the code with your phone."
	}

	title := "Scan to pair"
	if t.codes > 1 {
		title = fmt.Sprintf("Scan to pair (code %d, the previous one expired)", t.codes)
	}
	t.println(t.style.panel.Render(t.style.title.Render(title) + "\n" + body))
}

// ShowAuthorized implements [UI].
func (t *Terminal) ShowAuthorized(summary string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearCode()
	t.busy = true
	t.println(t.style.ok.Render("✓ Paired") + " " + summary)
}

// ShowError implements [UI].
func (t *Terminal) ShowError(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearCode()
	t.busy = true
	t.println(t.style.fail.Render("✗ Pairing failed") + " " + reason)
}

// ResetToIdle implements [UI].  Repeated resets print once.
func (t *Terminal) ResetToIdle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.busy {
		return
	}
	t.busy = false
	t.clearCode()
	t.codes = 0
	t.println(t.style.muted.Render("Pairing stopped; the code is no longer valid."))
}

// clearCode removes the exported image so a stale code is not scanned.
func (t *Terminal) clearCode() {
	if !t.written {
		return
	}
	t.written = false
	if err := os.Remove(t.qrPath); err != nil && !os.IsNotExist(err) {
		t.logger.Warn("cannot remove %s: %v", t.qrPath, err)
	}
}

func (t *Terminal) println(s string) {
	fmt.Fprintln(t.out, s)
}
