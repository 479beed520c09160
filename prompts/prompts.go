package prompts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const defaultSearch = `Research the topic "{topic}" using current, reliable sources.
Summarise the key facts, dates, places, people and figures a short documentary
would need. Write plain prose, no markdown, and cite sources inline.`

const defaultScriptSystem = `You are a documentary scriptwriter for short news videos.
You write clear, factual narration and vivid, filmable shot descriptions.
You MUST respond with ONLY valid JSON, no markdown and no explanation.`

const defaultCompose = `Write a short video script about "{topic}".

You MUST respond with ONLY a valid JSON array, no preamble, no markdown.
Each element is one scene with exactly these fields:
- "scene_id": integer, starting at 1 and increasing by 1
- "ssml": the narration for the scene as SSML (<speak>...</speak>), 15-20 words
- "visual_desc": a detailed cinematic description of what the camera shows
- "transition_hint": how this scene visually continues from the previous one

Write 8 to 10 scenes. Ground every statement in the context below.

Context:
{context}`

const defaultScene = `Continue a cinematic documentary sequence.
Previous shot: {prev_visual}
Transition: {transition_hint}
Now show: {main_visual}
Camera: 35mm, smooth motion, natural light. No on-screen text.`

const defaultIntro = `Generate a cinematic 8-second news introduction scene featuring a professional
female news anchor (around 30 years old) in a modern TV newsroom.
She smiles gently, looks directly at the camera and greets the audience confidently.
Lighting: warm and balanced, elegant studio atmosphere.
Camera: 35mm, eye level, slow push-in motion.
No on-screen text, only natural movement and environment.`

const defaultMetadataSystem = `You are a YouTube SEO strategist for documentary content.
Titles are compelling but honest. You MUST respond with ONLY valid JSON.`

const defaultMetadata = `Write YouTube metadata for a short documentary video titled from this script.
Respond with ONLY valid JSON with fields "title" (string), "description" (string,
about 150 words) and "tags" (array of strings).

Script narration:
{narration}`

// Set holds the prompt templates used across the pipeline. Placeholders are
// written as {name}.
type Set struct {
	Search   string
	Compose  string
	Scene    string
	Intro    string
	Metadata string

	// System prompts sent ahead of the compose and metadata requests.
	ScriptSystem   string
	MetadataSystem string
}

// Defaults returns the built-in templates.
func Defaults() Set {
	return Set{
		Search:   defaultSearch,
		Compose:  defaultCompose,
		Scene:    defaultScene,
		Intro:    defaultIntro,
		Metadata: defaultMetadata,

		ScriptSystem:   defaultScriptSystem,
		MetadataSystem: defaultMetadataSystem,
	}
}

// Load returns the defaults overridden by any of the *_prompt.txt and
// *_system.txt files found in dir.
func Load(dir string) (Set, error) {
	set := Defaults()
	if dir == "" {
		return set, nil
	}
	files := map[string]*string{
		"search_prompt.txt":   &set.Search,
		"compose_prompt.txt":  &set.Compose,
		"scene_prompt.txt":    &set.Scene,
		"intro_prompt.txt":    &set.Intro,
		"metadata_prompt.txt": &set.Metadata,
		"script_system.txt":   &set.ScriptSystem,
		"metadata_system.txt": &set.MetadataSystem,
	}
	for name, dst := range files {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return set, fmt.Errorf("read prompt %s: %w", name, err)
		}
		if s := strings.TrimSpace(string(data)); s != "" {
			*dst = s
		}
	}
	return set, nil
}

// Render substitutes {key} placeholders in tmpl. Unknown placeholders are
// left as they are.
func Render(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
