// Package navigation implements compass/positional direction-alias
// resolution and exit listing for the state engine's move tool.
package navigation

import (
	"fmt"
	"sort"
	"strings"
)

var aliases = map[string]string{
	"n": "north", "s": "south", "e": "east", "w": "west",
	"ne": "northeast", "nw": "northwest", "se": "southeast", "sw": "southwest",
	"u": "up", "d": "down",
	"in": "inside", "out": "outside",
}

// Canonicalize resolves a direction alias (e.g. "n") to its canonical form
// (e.g. "north"); unrecognized input is lowercased and returned unchanged so
// callers can still look it up directly against a room's exits.
func Canonicalize(direction string) string {
	lower := strings.ToLower(strings.TrimSpace(direction))
	if canon, ok := aliases[lower]; ok {
		return canon
	}
	return lower
}

// Map is a preset's room graph: room -> direction -> destination room.
type Map map[string]map[string]string

// Exits returns the sorted list of canonical directions available from room.
func (m Map) Exits(room string) []string {
	exits := make([]string, 0, len(m[room]))
	for dir := range m[room] {
		exits = append(exits, dir)
	}
	sort.Strings(exits)
	return exits
}

// Move resolves direction (alias or canonical) from room and returns the
// destination, or an error listing the room's exits.
func (m Map) Move(room, direction string) (string, error) {
	canon := Canonicalize(direction)
	destinations, ok := m[room]
	if !ok {
		return "", fmt.Errorf("no exits from %q", room)
	}
	dest, ok := destinations[canon]
	if !ok {
		return "", fmt.Errorf("no exit %q; exits: %s", direction, strings.Join(m.Exits(room), ", "))
	}
	return dest, nil
}

// RenderExits formats a room's exits for prompt/tool-result display,
// showing "???" for destinations not yet in visited.
func (m Map) RenderExits(room string, visited map[string]bool) string {
	destinations := m[room]
	dirs := m.Exits(room)
	parts := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		dest := destinations[dir]
		if visited[dest] {
			parts = append(parts, fmt.Sprintf("%s -> %s", dir, dest))
		} else {
			parts = append(parts, fmt.Sprintf("%s -> ???", dir))
		}
	}
	return strings.Join(parts, ", ")
}
