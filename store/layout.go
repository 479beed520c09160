package store

import "fmt"

// Artifact layout relative to the output root.
const (
	AudioDir  = "audio"
	VideoDir  = "video"
	FramesDir = "frames"

	ScriptKey        = "scripts/script.json"
	SearchContextKey = "scripts/search_context.txt"
	FinalKey         = "final_video.mp4"
	UploadRecordKey  = "publish/upload.json"

	AudioPattern = "scene_*.mp3"
	VideoPattern = "scene_*.mp4"
)

// AudioKey is the narration clip of a scene.
func AudioKey(sceneID int) string { return fmt.Sprintf("%s/scene_%02d.mp3", AudioDir, sceneID) }

// VideoKey is the generated clip of a scene.
func VideoKey(sceneID int) string { return fmt.Sprintf("%s/scene_%02d.mp4", VideoDir, sceneID) }

// FrameKey is the last frame extracted from a scene's clip.
func FrameKey(sceneID int) string { return fmt.Sprintf("%s/scene_%02d_last.png", FramesDir, sceneID) }
