package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"
)

// defaultProbes mirrors the browser fingerprint component list: display
// geometry, platform and language strings, timezone, a rendering signature,
// an audio capability value and an installed-font probe. Probes degrade to
// marker strings ("no_display", "audio_error", ...) rather than erroring,
// so soft failures still produce a stable composite.
func defaultProbes() []Probe {
	return []Probe{
		{Name: "screen", Collect: screenProbe},
		{Name: "platform", Collect: platformProbe},
		{Name: "language", Collect: languageProbe},
		{Name: "timezone", Collect: timezoneProbe},
		{Name: "render", Collect: renderProbe},
		{Name: "audio", Collect: audioProbe},
		{Name: "fonts", Collect: fontsProbe},
	}
}

// screenProbe reports the display/terminal geometry the environment
// advertises.
func screenProbe() (string, error) {
	parts := []string{
		os.Getenv("COLUMNS"),
		os.Getenv("LINES"),
		os.Getenv("DISPLAY"),
		os.Getenv("TERM"),
	}
	if strings.Join(parts, "") == "" {
		return "no_display", nil
	}
	return strings.Join(parts, ","), nil
}

// platformProbe is the equivalent of the browser's userAgent/platform pair.
func platformProbe() (string, error) {
	host, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("hostname unavailable: %w", err)
	}
	return strings.Join([]string{
		host,
		runtime.GOOS,
		runtime.GOARCH,
		fmt.Sprintf("%d", runtime.NumCPU()),
		runtime.Version(),
	}, ","), nil
}

func languageProbe() (string, error) {
	return strings.Join([]string{
		os.Getenv("LANG"),
		os.Getenv("LC_ALL"),
		os.Getenv("LANGUAGE"),
	}, ","), nil
}

func timezoneProbe() (string, error) {
	name, offset := time.Now().Zone()
	return fmt.Sprintf("%s,%d", name, offset), nil
}

// renderProbe stands in for the canvas signature: a deterministic transform
// of a fixed pattern whose output depends on this build's rendering of it.
func renderProbe() (string, error) {
	const pattern = "PrimeAutoHub:mmmmmmmmmmlli:14px"
	sum := sha256.Sum256([]byte(pattern + runtime.GOOS + runtime.GOARCH))
	return hex.EncodeToString(sum[:8]), nil
}

// audioProbe reports the audio capability the host advertises.
func audioProbe() (string, error) {
	data, err := os.ReadFile("/proc/asound/cards")
	if err != nil {
		return "no_audio", nil
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:4]), nil
}

// candidateFonts is the fixed probe list carried over from the width-probing
// browser technique.
var candidateFonts = []string{
	"Arial", "Helvetica", "Times New Roman", "Courier New",
	"Verdana", "Georgia", "Palatino", "Garamond",
	"Comic Sans MS", "Trebuchet MS", "Arial Black", "Impact",
}

var fontDirs = []string{
	"/usr/share/fonts",
	"/usr/local/share/fonts",
	"/System/Library/Fonts",
	"C:\\Windows\\Fonts",
}

// fontsProbe detects which candidate fonts are installed. Where a browser
// compares rendered widths against baseline families, here a font is
// "detected" when a matching font file exists under the host's font
// directories. No readable font directory yields a marker, not an error.
func fontsProbe() (string, error) {
	available := make(map[string]bool)
	readable := false

	for _, dir := range fontDirs {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		readable = true
		filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if !d.IsDir() {
				name := strings.ToLower(d.Name())
				name = strings.TrimSuffix(name, filepath.Ext(name))
				available[strings.ReplaceAll(name, " ", "")] = true
			}
			return nil
		})
	}

	if !readable || len(available) == 0 {
		return "no_fonts", nil
	}

	var detected []string
	for _, font := range candidateFonts {
		key := strings.ToLower(strings.ReplaceAll(font, " ", ""))
		if available[key] {
			detected = append(detected, font)
		}
	}
	sort.Strings(detected)
	return strings.Join(detected, ","), nil
}
