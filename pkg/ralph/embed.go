package ralph

import _ "embed"

//go:embed prompts/system.md
var systemPrompt string
