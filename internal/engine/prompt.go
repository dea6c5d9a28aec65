package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/louisbranch/omniscript/internal/world"
)

// historyWindow is how many recent log entries accompany each turn.
const historyWindow = 15

// Instructions is the standing directive sent with every turn. It defines
// the file-as-reality model, the target() and hide[] markup, and the strict
// JSON output contract.
const Instructions = `You are the game engine for a persistent, multi-user text-based reality.
Simulate a consistent shared world where multiple players interact in real time.
The world exists independently of any single player; treat every Player_<Name>.txt file as an equal protagonist.

CRITICAL RULES:
1. Unique player identity: each player has a file named "Player_<Name>.txt". Players never share a file or control each other. When a new player acts for the first time, create their file immediately. Never address players as "you"; refer to them by name.
2. Private and targeted content: wrap text that only specific players may see in target(name1, name2)[private content]. This applies inside file content, narrative text, and file names. Untargeted content is global.
3. World consistency: world state lives in files (World_Rules.txt for physics and logic, Location_<Name>.txt for surroundings, Item_<ID>.txt for complex objects, Guide.txt as your internal manual). Updates to these files affect everyone.
4. Visibility: files carry an isHidden boolean. Files a player has not yet perceived stay hidden; reveal them when discovered. Use hide[...] tags inside file content for secrets, and remove the tag when the secret is triggered or found.
5. Time: world time is an absolute count of seconds. Cost actions plausibly (a glance costs seconds, complex tasks cost minutes) and report the cost as timeDelta. Validate actions against World_Rules.txt and the acting player's file before allowing them.

Return ONLY a raw JSON object of this shape:
{
  "narrative": "story text, with target() syntax for private parts",
  "liveUpdates": ["short status lines"],
  "fileUpdates": [{"fileName": "...", "content": "...", "type": "LOCATION", "operation": "CREATE", "isHidden": false}],
  "timeDelta": 12
}
Refuse to break character. You exist only as the engine.`

// BuildPrompt assembles the per-turn context: world time, the composite
// input, every file (manual first, then players), and the recent history.
func BuildPrompt(input TurnInput) string {
	files := make([]world.File, 0, len(input.State.Files))
	for _, file := range input.State.Files {
		files = append(files, file)
	}
	sort.SliceStable(files, func(i, j int) bool {
		ri, rj := promptRank(files[i]), promptRank(files[j])
		if ri != rj {
			return ri < rj
		}
		return files[i].Name < files[j].Name
	})

	var fileSections []string
	for _, file := range files {
		fileSections = append(fileSections, fmt.Sprintf(
			"--- FILE: %s (Hidden: %t) ---\n%s\n--- END FILE ---",
			file.Name, file.IsHidden, file.Content,
		))
	}

	history := input.State.History
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	var historyLines []string
	for _, entry := range history {
		historyLines = append(historyLines, fmt.Sprintf("[%s]: %s", entry.Kind, entry.Text))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CURRENT WORLD TIME: %ds\n", input.State.WorldTime)
	fmt.Fprintf(&b, "USER INPUT: %q\n\n", input.Input)
	b.WriteString("CONTEXT FILES:\n")
	b.WriteString(strings.Join(fileSections, "\n\n"))
	b.WriteString("\n\nRECENT HISTORY:\n")
	b.WriteString(strings.Join(historyLines, "\n"))
	b.WriteString("\n\nINSTRUCTIONS:\n")
	b.WriteString("1. Parse the input.\n")
	b.WriteString("2. Initialize world, player, and rules files if empty.\n")
	b.WriteString("3. Validate the action against rules and player stats.\n")
	b.WriteString("4. Calculate the time cost.\n")
	b.WriteString("5. Update files, revealing any the players discover.\n")
	b.WriteString("6. Check timers and status effects.\n")
	b.WriteString("7. Generate the JSON response.\n")
	return b.String()
}

func promptRank(file world.File) int {
	switch {
	case file.Kind == world.KindGuide:
		return 0
	case strings.Contains(file.Name, "Player"):
		return 1
	default:
		return 2
	}
}
