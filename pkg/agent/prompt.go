package agent

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// SkillFile is the skill documentation file, read from the parent of the
// scripts directory.
const SkillFile = "SKILL.md"

const basePrompt = `You are an AI assistant with code execution capabilities and access to AI/ML models via the ai_models skill.

**Tool usage rules**:
- Before answering requests about images, videos, audio or ML models, check whether the ai_models skill can help.
- Prefer running a model over saying you cannot do something.

## Code execution
Use the exec_code tool to run JavaScript. The sandbox provides:
- replicate.run(model, input): run a model and return its output (blocks until the prediction finishes)
- await replicate.async_run(model, input): the same, as a Promise
- replicate.get_model(model): model metadata and input schema
- download(output, model, tag): save model outputs into the storage directory; returns [{url, local_path}] or [{url, error}]
- Path(...parts) with join, exists, isDir, isFile, readText, writeText, writeBytes, mkdir, list, stat, name, stem, suffix, parent
- open(path, mode), os.listdir, os.getcwd, os.path.join/basename/dirname/exists/splitext
- json.dumps(v, indent), json.loads(s), sleep(seconds), await asyncio.sleep(seconds)
- print(...) and console.log(...)
- sandbox_path (the project root) and storage_path (where downloads go)

File access is limited to the project directory. There is no require and no network access besides replicate.

Set __result__ to return a value. Strings are returned as-is, objects as JSON.

**Pattern for model runs:**
` + "```js" + `
const output = replicate.run("black-forest-labs/flux-schnell", {prompt: "a red fox"});
const saved = download(output, "black-forest-labs/flux-schnell", "red-fox");
__result__ = "Downloaded to: " + saved.filter(s => !s.error).map(s => s.local_path).join(", ");
` + "```" + `

Mention the local paths of downloaded files in your answer so the UI can display them.

## Helper scripts
Use list_tools to see the helper scripts and read_file to read one before using it.
`

// BuildSystemPrompt returns the system prompt for scriptsDir. base replaces
// the built-in prompt when non-empty. The skill documentation, if present,
// is appended without its YAML frontmatter.
func BuildSystemPrompt(base, scriptsDir string) (string, error) {
	if base == "" {
		base = basePrompt
	}
	if scriptsDir == "" {
		return base, nil
	}

	data, err := os.ReadFile(filepath.Join(filepath.Dir(scriptsDir), SkillFile))
	if errors.Is(err, fs.ErrNotExist) {
		return base, nil
	}
	if err != nil {
		return "", fmt.Errorf("reading skill documentation: %w", err)
	}

	skill := stripFrontmatter(string(data))
	return base + "\n---\n# AI Models Skill Documentation\n\n" + skill, nil
}

// LoadSystemPrompt reads a prompt override from path, if set, and builds
// the system prompt around it.
func LoadSystemPrompt(path, scriptsDir string) (string, error) {
	var base string
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading system prompt: %w", err)
		}
		base = string(data)
	}
	return BuildSystemPrompt(base, scriptsDir)
}

// stripFrontmatter removes a leading "---" delimited block.
func stripFrontmatter(s string) string {
	if !strings.HasPrefix(s, "---") {
		return s
	}
	parts := strings.SplitN(s, "---", 3)
	if len(parts) < 3 {
		return s
	}
	return strings.TrimSpace(parts[2])
}
