package ansi

import "fmt"

// Color is a hex RGB value such as "#ff5555". The empty Color means "unset".
type Color string

// Named foreground palette for SGR 30-37 and 90-97.
// 30 shares the bright-black tone so that "black" text stays readable on dark backgrounds.
var fgPalette = map[int]Color{
	30: "#6272a4",
	31: "#ff5555",
	32: "#50fa7b",
	33: "#f1fa8c",
	34: "#8be9fd",
	35: "#ff79c6",
	36: "#66d9ef",
	37: "#f8f8f2",
	90: "#6272a4",
	91: "#ff6e6e",
	92: "#69ff94",
	93: "#ffffa5",
	94: "#9aedfe",
	95: "#ff92df",
	96: "#82e9ff",
	97: "#ffffff",
}

// Background palette for SGR 40-47 and 100-107.
var bgPalette = map[int]Color{
	40:  "#000000",
	41:  "#ff5555",
	42:  "#50fa7b",
	43:  "#f1fa8c",
	44:  "#8be9fd",
	45:  "#ff79c6",
	46:  "#66d9ef",
	47:  "#f8f8f2",
	100: "#6272a4",
	101: "#ff6e6e",
	102: "#69ff94",
	103: "#ffffa5",
	104: "#9aedfe",
	105: "#ff92df",
	106: "#82e9ff",
	107: "#ffffff",
}

// xterm base colors for 256-color indices 0-15.
var xtermBase = [16]Color{
	"#000000", "#800000", "#008000", "#808000",
	"#000080", "#800080", "#008080", "#c0c0c0",
	"#808080", "#ff0000", "#00ff00", "#ffff00",
	"#0000ff", "#ff00ff", "#00ffff", "#ffffff",
}

var cubeLevels = [6]int{0, 95, 135, 175, 215, 255}

// Xterm256 maps a 256-color palette index to its RGB value.
// Indices outside 0-255 return the empty Color.
func Xterm256(n int) Color {
	switch {
	case n < 0 || n > 255:
		return ""
	case n < 16:
		return xtermBase[n]
	case n <= 231:
		n -= 16
		r := cubeLevels[(n/36)%6]
		g := cubeLevels[(n/6)%6]
		b := cubeLevels[n%6]
		return RGB(r, g, b)
	default:
		level := 8 + (n-232)*10
		return RGB(level, level, level)
	}
}

// RGB formats the components as a Color. Components are clamped to 0-255.
func RGB(r, g, b int) Color {
	return Color(fmt.Sprintf("#%02x%02x%02x", clamp(r), clamp(g), clamp(b)))
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}
