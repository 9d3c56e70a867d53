package caption

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"vidgen/ffmpeg"
	"vidgen/speech"
)

// Average glyph width relative to the font size, used to page words onto one line.
const glyphWidth = 0.55

var hexColor = regexp.MustCompile(`^#?([0-9a-fA-F]{6})([0-9a-fA-F]{2})?$`)

// parseColor turns #RRGGBB or #RRGGBBAA into drawtext's 0xRRGGBBAA form.
func parseColor(c string) (string, error) {
	if c == "" {
		return "0xFFFFFFFF", nil
	}
	m := hexColor.FindStringSubmatch(c)
	if m == nil {
		return "", fmt.Errorf("%w: invalid text color %q", ErrRender, c)
	}
	alpha := m[2]
	if alpha == "" {
		alpha = "FF"
	}
	return "0x" + strings.ToUpper(m[1]+alpha), nil
}

// positionExpr is the drawtext y expression for a caption position.
func positionExpr(pos string, padding int) (string, error) {
	switch strings.ToLower(strings.TrimSpace(pos)) {
	case "", "center", "middle":
		return "(h-text_h)/2", nil
	case "top":
		return strconv.Itoa(padding), nil
	case "bottom":
		return fmt.Sprintf("h-text_h-%d", padding), nil
	}
	f, err := strconv.ParseFloat(pos, 64)
	if err != nil || f < 0 || f > 1 {
		return "", fmt.Errorf("%w: invalid caption position %q", ErrRender, pos)
	}
	return fmt.Sprintf("h*%s-text_h/2", strconv.FormatFloat(f, 'f', -1, 64)), nil
}

// escapeText makes s safe inside a single-quoted drawtext value.
func escapeText(s string) string {
	s = strings.ReplaceAll(s, `\`, "")
	s = strings.ReplaceAll(s, "'", "’")
	return s
}

func escapePath(p string) string {
	p = strings.ReplaceAll(p, `\`, `/`)
	p = strings.ReplaceAll(p, ":", `\:`)
	return strings.ReplaceAll(p, "'", `\'`)
}

// pageWords groups consecutive words into lines that fit maxChars.
// A single word longer than maxChars gets a page of its own.
func pageWords(words []speech.Word, maxChars int) [][]speech.Word {
	var pages [][]speech.Word
	var cur []speech.Word
	length := 0
	for _, w := range words {
		add := len([]rune(w.Text))
		if len(cur) > 0 {
			add++
		}
		if len(cur) > 0 && length+add > maxChars {
			pages = append(pages, cur)
			cur, length = nil, 0
			add = len([]rune(w.Text))
		}
		cur = append(cur, w)
		length += add
	}
	if len(cur) > 0 {
		pages = append(pages, cur)
	}
	return pages
}

func maxLineChars(st Style, width int) int {
	usable := float64(width - 2*st.Padding)
	n := int(usable / (float64(st.FontSize) * glyphWidth))
	if n < 1 {
		return 1
	}
	return n
}

func fontOption(st Style) string {
	if st.Font == "" {
		return "font='Sans'"
	}
	return fmt.Sprintf("fontfile='%s'", escapePath(st.Font))
}

// drawtext renders text over [start, end) with an optional alpha expression. The window is
// half-open so a frame on a boundary between consecutive layers shows exactly one of them.
func drawtext(st Style, color, y, text string, fontSize int, start, end float64, alpha string) string {
	dt := fmt.Sprintf("drawtext=%s:expansion=none:text='%s':fontsize=%d:fontcolor=%s:borderw=3:bordercolor=black@0.8:x=(w-text_w)/2:y=%s:enable='gte(t,%s)*lt(t,%s)'",
		fontOption(st), escapeText(text), fontSize, color, y, ffmpeg.Seconds(start), ffmpeg.Seconds(end))
	if alpha != "" {
		dt += fmt.Sprintf(":alpha='%s'", alpha)
	}
	return dt
}

// captionArgs renders the words progressively: each page of a line reveals one more word at
// that word's start time.
func captionArgs(req Request, outPath string) ([]string, error) {
	st := req.Style
	color, err := parseColor(st.TextColor)
	if err != nil {
		return nil, err
	}
	y, err := positionExpr(st.Position, st.Padding)
	if err != nil {
		return nil, err
	}

	origin := req.Words[0].Start
	span := speech.Span(req.Words)
	f := req.Frame

	chain := []string{"format=rgba"}
	pages := pageWords(req.Words, maxLineChars(st, f.Width))
	for _, page := range pages {
		for i, w := range page {
			var text []string
			for _, p := range page[:i+1] {
				text = append(text, p.Text)
			}
			start := w.Start - origin
			end := w.End - origin
			// Hold the last word until the clip ends so the final frame is never blank.
			if w == req.Words[len(req.Words)-1] {
				end = span + 1
			}
			chain = append(chain, drawtext(st, color, y, strings.Join(text, " "), st.FontSize, start, end, ""))
		}
	}

	d := ffmpeg.Seconds(span)
	args := []string{
		"-f", "lavfi", "-i", fmt.Sprintf("color=c=black@0.0:s=%dx%d:r=%d:d=%s", f.Width, f.Height, f.FPS, d),
	}
	if req.Audio != "" {
		args = append(args, "-ss", ffmpeg.Seconds(origin), "-i", req.Audio)
	} else {
		args = append(args, "-f", "lavfi", "-i", "anullsrc=r=44100:cl=stereo")
	}
	args = append(args,
		"-filter_complex", "[0:v]"+strings.Join(chain, ",")+"[v]",
		"-map", "[v]", "-map", "1:a",
		"-t", d,
		"-c:v", "qtrle", "-pix_fmt", "argb", "-c:a", "pcm_s16le", "-ar", "44100", "-ac", "2",
		outPath,
	)
	return args, nil
}
