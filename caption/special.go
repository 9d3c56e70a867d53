package caption

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"vidgen/ffmpeg"
)

// Marker is a text unit of the form :name: or :name:arg: naming a special clip.
type Marker struct {
	Name string
	Arg  string
}

var markerPattern = regexp.MustCompile(`^:([A-Za-z][A-Za-z0-9_-]*):(?:([^:\s]+):)?$`)

// ParseMarker reports whether text is a special clip marker.
func ParseMarker(text string) (Marker, bool) {
	m := markerPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return Marker{}, false
	}
	return Marker{Name: strings.ToLower(m[1]), Arg: m[2]}, true
}

// Builder produces the ffmpeg arguments for a special clip. The clip must match the
// codec layout of rendered captions so the two can be joined without re-encoding.
type Builder func(arg string, st Style, frame ffmpeg.Frame, outPath string) ([]string, error)

// Specials maps marker names to builders.
type Specials struct {
	builders map[string]Builder
}

func NewSpecials() *Specials {
	return &Specials{builders: make(map[string]Builder)}
}

func (s *Specials) Register(name string, b Builder) {
	s.builders[strings.ToLower(name)] = b
}

func (s *Specials) lookup(name string) (Builder, bool) {
	if s == nil {
		return nil, false
	}
	b, ok := s.builders[strings.ToLower(name)]
	return b, ok
}

// BuiltinSpecials returns the shipped special clips. sfx, when set, is the audio played
// under the countdown.
func BuiltinSpecials(sfx string) *Specials {
	s := NewSpecials()
	s.Register("countdown", countdown(sfx))
	return s
}

const (
	defaultCountdown = 3
	maxCountdown     = 60
	countdownFade    = 0.25
)

// countdown shows N, N-1 ... 1, one number per second, each fading in and out.
func countdown(sfx string) Builder {
	return func(arg string, st Style, frame ffmpeg.Frame, outPath string) ([]string, error) {
		n := defaultCountdown
		if arg != "" {
			v, err := strconv.Atoi(arg)
			if err != nil || v < 1 || v > maxCountdown {
				return nil, fmt.Errorf("%w: countdown length %q must be between 1 and %d", ErrRender, arg, maxCountdown)
			}
			n = v
		}
		color, err := parseColor(st.TextColor)
		if err != nil {
			return nil, err
		}

		chain := []string{"format=rgba"}
		for i := 0; i < n; i++ {
			start := float64(i)
			alpha := fmt.Sprintf("if(lt(t-%d,%.2f),(t-%d)/%.2f,if(gt(t-%d,%.2f),(%d-t)/%.2f,1))",
				i, countdownFade, i, countdownFade, i, 1-countdownFade, i+1, countdownFade)
			chain = append(chain, drawtext(st, color, "(h-text_h)/2", strconv.Itoa(n-i), st.FontSize*3, start, start+1, alpha))
		}

		d := strconv.Itoa(n)
		args := []string{
			"-f", "lavfi", "-i", fmt.Sprintf("color=c=black@0.0:s=%dx%d:r=%d:d=%s", frame.Width, frame.Height, frame.FPS, d),
		}
		if sfx != "" {
			args = append(args, "-stream_loop", "-1", "-i", sfx)
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
}
