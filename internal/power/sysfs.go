package power

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultSysfsRoot is where Linux exposes power supplies.
const DefaultSysfsRoot = "/sys/class/power_supply"

// Sysfs reads battery state from the Linux power_supply class.
type Sysfs struct {
	root string
}

// NewSysfs creates a sysfs source rooted at root.
func NewSysfs(root string) *Sysfs {
	return &Sysfs{root: root}
}

// Name implements Source.
func (s *Sysfs) Name() string { return "sysfs" }

func (s *Sysfs) batteries() []string {
	dirs, err := os.ReadDir(s.root)
	if err != nil {
		return nil
	}
	var out []string
	for _, d := range dirs {
		dir := filepath.Join(s.root, d.Name())
		if readTrimmed(filepath.Join(dir, "type")) == "Battery" {
			out = append(out, dir)
		}
	}
	return out
}

// HasBattery reports whether any battery is present.
func (s *Sysfs) HasBattery() bool {
	return len(s.batteries()) > 0
}

// State implements Source. With several batteries the capacities are averaged
// and the machine counts as on battery if any of them is discharging.
func (s *Sysfs) State(_ context.Context) State {
	var (
		total       float64
		count       int
		discharging bool
	)
	for _, dir := range s.batteries() {
		capacity, err := strconv.ParseFloat(readTrimmed(filepath.Join(dir, "capacity")), 64)
		if err != nil {
			continue
		}
		total += capacity
		count++
		if readTrimmed(filepath.Join(dir, "status")) == "Discharging" {
			discharging = true
		}
	}
	if count == 0 {
		return State{}
	}
	return State{Known: true, OnBattery: discharging, Percent: total / float64(count)}
}

func readTrimmed(path string) string {
	data, err := os.ReadFile(path) //#nosec G304 -- sysfs paths
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
