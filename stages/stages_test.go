package stages

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hqta1110/video-pipeline/prompts"
	"github.com/hqta1110/video-pipeline/scenes"
	"github.com/hqta1110/video-pipeline/store"
	"github.com/hqta1110/video-pipeline/textgen"
	"github.com/hqta1110/video-pipeline/types"
)

const twoScenes = "```json\n" + `[
  {"scene_id": 2, "ssml": "<speak>Second</speak>", "visual_desc": "river", "transition_hint": "pan"},
  {"scene_id": 1, "ssml": "<speak>First</speak>", "visual_desc": "citadel", "transition_hint": ""}
]` + "\n```"

type fakeGen struct {
	calls []textgen.Request
	reply string
	err   error
}

func (f *fakeGen) Generate(ctx context.Context, req textgen.Request) (string, error) {
	f.calls = append(f.calls, req)
	return f.reply, f.err
}

type fakeSource struct {
	calls int
	text  string
	err   error
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Gather(ctx context.Context, topic string) (string, error) {
	f.calls++
	return f.text, f.err
}

func TestParseScript(t *testing.T) {
	script, err := ParseScript(twoScenes)
	if err != nil {
		t.Fatalf("ParseScript: %v", err)
	}
	if len(script) != 2 || script[0].ID != 1 || script[1].VisualDesc != "river" {
		t.Errorf("script = %+v", script)
	}

	wrapped, err := ParseScript(`{"scenes": [{"scene_id": 1, "ssml": "<speak>x</speak>", "visual_desc": "v"}]}`)
	if err != nil || len(wrapped) != 1 {
		t.Errorf("wrapped = %+v, %v", wrapped, err)
	}

	for _, bad := range []string{"not json", `[{"scene_id": 2, "ssml": "s", "visual_desc": "v"}]`, `[]`} {
		if _, err := ParseScript(bad); !errors.Is(err, types.ErrProtocol) {
			t.Errorf("ParseScript(%q) err = %v, want ErrProtocol", bad, err)
		}
	}
}

func TestScriptStage(t *testing.T) {
	st := store.NewMemory()
	gen := &fakeGen{reply: twoScenes}
	src := &fakeSource{text: "Hue was the imperial capital."}
	p := prompts.Defaults()
	p.Compose = "Topic: {topic}\nFacts: {context}"

	s := NewScriptStage("  Hue  ", gen, src, st, p, ScriptOptions{Model: "m", MaxContextChars: 8}, nil)
	if err := s.Check(); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if s.UpToDate() {
		t.Fatal("UpToDate before run")
	}
	if err := s.Run(context.Background(), &types.StageReport{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := gen.calls[0].Prompt; got != "Topic: Hue\nFacts: Hue was " {
		t.Errorf("prompt = %q", got)
	}
	if got := gen.calls[0].System; got != p.ScriptSystem || got == "" {
		t.Errorf("system prompt = %q", got)
	}
	saved, _ := st.ReadFile(store.SearchContextKey)
	if string(saved) != src.text {
		t.Errorf("context = %q", saved)
	}
	data, _ := st.ReadFile(store.ScriptKey)
	if !strings.Contains(string(data), `"ssml": "<speak>First</speak>"`) {
		t.Errorf("script not saved readably:\n%s", data)
	}
	script, err := LoadScript(st)
	if err != nil || script[0].ID != 1 {
		t.Errorf("LoadScript = %+v, %v", script, err)
	}
	if !s.UpToDate() {
		t.Error("UpToDate after run")
	}
}

func TestScriptStageSkipSearch(t *testing.T) {
	st := store.NewMemory()
	store.WriteBytes(st, store.SearchContextKey, []byte("saved facts"))
	gen := &fakeGen{reply: twoScenes}
	src := &fakeSource{text: "fresh"}

	s := NewScriptStage("t", gen, src, st, prompts.Set{Compose: "{context}"}, ScriptOptions{SkipSearch: true}, nil)
	if err := s.Run(context.Background(), &types.StageReport{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if src.calls != 0 {
		t.Errorf("source called %d times", src.calls)
	}
	if gen.calls[0].Prompt != "saved facts" {
		t.Errorf("prompt = %q", gen.calls[0].Prompt)
	}

	// No saved context: compose with none.
	empty := store.NewMemory()
	gen = &fakeGen{reply: twoScenes}
	s = NewScriptStage("t", gen, src, empty, prompts.Set{Compose: "[{context}]"}, ScriptOptions{SkipSearch: true}, nil)
	if err := s.Run(context.Background(), &types.StageReport{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if src.calls != 0 || gen.calls[0].Prompt != "[]" {
		t.Errorf("source calls %d, prompt %q", src.calls, gen.calls[0].Prompt)
	}
}

func TestScriptStageFailures(t *testing.T) {
	if err := NewScriptStage(" ", nil, nil, store.NewMemory(), prompts.Set{}, ScriptOptions{}, nil).Check(); !errors.Is(err, types.ErrInvalidRequest) {
		t.Errorf("empty topic err = %v", err)
	}

	st := store.NewMemory()
	s := NewScriptStage("t", &fakeGen{reply: "sorry, I cannot"}, nil, st, prompts.Defaults(), ScriptOptions{}, nil)
	if err := s.Run(context.Background(), &types.StageReport{}); !errors.Is(err, types.ErrProtocol) {
		t.Errorf("err = %v, want ErrProtocol", err)
	}
	if st.Exists(store.ScriptKey) {
		t.Error("script written for unparseable reply")
	}

	boom := errors.New("search down")
	s = NewScriptStage("t", &fakeGen{reply: twoScenes}, &fakeSource{err: boom}, st, prompts.Defaults(), ScriptOptions{}, nil)
	if err := s.Run(context.Background(), &types.StageReport{}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want search error", err)
	}
}

type fakeRunner struct {
	got types.Script
	res scenes.Result
}

func (f *fakeRunner) Run(ctx context.Context, script types.Script) scenes.Result {
	f.got = script
	return f.res
}

func saveScript(t *testing.T, st store.ArtifactStore) {
	t.Helper()
	script, err := ParseScript(twoScenes)
	if err != nil {
		t.Fatal(err)
	}
	data, err := encodeScript(script)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.WriteBytes(st, store.ScriptKey, data); err != nil {
		t.Fatal(err)
	}
}

func TestScenesStage(t *testing.T) {
	st := store.NewMemory()
	r := &fakeRunner{res: scenes.Result{OK: 1, Failed: 1, Scenes: []types.SceneResult{
		{SceneID: 1, State: "complete"},
		{SceneID: 2, State: "failed", Err: errors.New("veo")},
	}}}
	s := NewScenesStage(r, st, nil)
	if err := s.Check(); !errors.Is(err, types.ErrMissingDependency) {
		t.Fatalf("Check without script = %v", err)
	}

	saveScript(t, st)
	if err := s.Check(); err != nil {
		t.Fatalf("Check: %v", err)
	}
	var rep types.StageReport
	if err := s.Run(context.Background(), &rep); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(r.got) != 2 || rep.ScenesOK != 1 || rep.ScenesFailed != 1 {
		t.Errorf("script %d scenes, report %+v", len(r.got), rep)
	}

	r.res = scenes.Result{Failed: 2}
	if err := s.Run(context.Background(), &rep); !errors.Is(err, types.ErrNoScenes) {
		t.Errorf("all failed err = %v", err)
	}
}

type fakeTool struct {
	lists     map[string]string
	listFiles []string
	muxed     []string
	failOn    string
}

func (f *fakeTool) ExtractLastFrame(ctx context.Context, video, frame string) error { return nil }

func (f *fakeTool) ConcatCopy(ctx context.Context, listFile, out string) error {
	f.listFiles = append(f.listFiles, listFile)
	if f.failOn == "concat" {
		return errors.New("concat failed")
	}
	data, err := os.ReadFile(listFile)
	if err != nil {
		return err
	}
	if f.lists == nil {
		f.lists = map[string]string{}
	}
	f.lists[listFile[strings.LastIndex(listFile, "/")+1:]] = string(data)
	return os.WriteFile(out, []byte("merged"), 0o644)
}

func (f *fakeTool) Mux(ctx context.Context, video, audio, out string) error {
	f.muxed = append(f.muxed, video, audio)
	if f.failOn == "mux" {
		os.WriteFile(out, []byte("partial"), 0o644)
		return errors.New("mux failed")
	}
	return os.WriteFile(out, []byte("final"), 0o644)
}

func seedScenes(st store.ArtifactStore, ids ...int) {
	for _, id := range ids {
		store.WriteBytes(st, store.VideoKey(id), []byte("v"))
		store.WriteBytes(st, store.AudioKey(id), []byte("a"))
	}
}

func TestConcatOrdersBySceneID(t *testing.T) {
	st := store.NewMemory()
	seedScenes(st, 10, 2, 1)
	tool := &fakeTool{}
	s := NewConcatStage(tool, st, nil)

	if err := s.Check(); err != nil {
		t.Fatalf("Check: %v", err)
	}
	var rep types.StageReport
	if err := s.Run(context.Background(), &rep); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := "file 'mem://video/scene_01.mp4'\nfile 'mem://video/scene_02.mp4'\nfile 'mem://video/scene_10.mp4'\n"
	if got := tool.lists["video_list.txt"]; got != want {
		t.Errorf("video list =\n%s\nwant\n%s", got, want)
	}
	if got := tool.lists["audio_list.txt"]; !strings.HasPrefix(got, "file 'mem://audio/scene_01.mp3'") {
		t.Errorf("audio list =\n%s", got)
	}
	data, err := st.ReadFile(store.FinalKey)
	if err != nil || string(data) != "final" {
		t.Errorf("final = %q, %v", data, err)
	}
	if rep.ScenesOK != 3 {
		t.Errorf("ScenesOK = %d", rep.ScenesOK)
	}
	if !s.UpToDate() {
		t.Error("UpToDate after run")
	}
	// The workspace holding the merged tracks is gone.
	if _, err := os.Stat(tool.muxed[0]); !os.IsNotExist(err) {
		t.Errorf("merged video still present: %v", err)
	}
}

func TestConcatRequiresInputs(t *testing.T) {
	st := store.NewMemory()
	store.WriteBytes(st, store.VideoKey(1), []byte("v"))
	tool := &fakeTool{}
	s := NewConcatStage(tool, st, nil)

	if err := s.Check(); !errors.Is(err, types.ErrMissingDependency) {
		t.Errorf("Check = %v", err)
	}
	if err := s.Run(context.Background(), &types.StageReport{}); !errors.Is(err, types.ErrMissingDependency) {
		t.Errorf("Run = %v", err)
	}
	if len(tool.lists) != 0 || len(tool.muxed) != 0 {
		t.Errorf("media tool invoked: %v %v", tool.lists, tool.muxed)
	}
}

func TestConcatSkipsIncompleteScenes(t *testing.T) {
	st := store.NewMemory()
	seedScenes(st, 1, 3)
	// Scene 2 kept its narration but its video job failed; scene 4 has no audio.
	store.WriteBytes(st, store.AudioKey(2), []byte("a"))
	store.WriteBytes(st, store.VideoKey(4), []byte("v"))
	tool := &fakeTool{}

	if err := NewConcatStage(tool, st, nil).Run(context.Background(), &types.StageReport{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got, want := tool.lists["video_list.txt"], "file 'mem://video/scene_01.mp4'\nfile 'mem://video/scene_03.mp4'\n"; got != want {
		t.Errorf("video list =\n%s\nwant\n%s", got, want)
	}
	if got, want := tool.lists["audio_list.txt"], "file 'mem://audio/scene_01.mp3'\nfile 'mem://audio/scene_03.mp3'\n"; got != want {
		t.Errorf("audio list =\n%s\nwant\n%s", got, want)
	}
}

func TestConcatNeedsACompletePair(t *testing.T) {
	st := store.NewMemory()
	store.WriteBytes(st, store.AudioKey(1), []byte("a"))
	store.WriteBytes(st, store.VideoKey(2), []byte("v"))
	tool := &fakeTool{}
	s := NewConcatStage(tool, st, nil)

	if err := s.Check(); !errors.Is(err, types.ErrMissingDependency) {
		t.Errorf("Check = %v", err)
	}
	if err := s.Run(context.Background(), &types.StageReport{}); !errors.Is(err, types.ErrMissingDependency) {
		t.Errorf("Run = %v", err)
	}
	if len(tool.listFiles) != 0 || len(tool.muxed) != 0 {
		t.Errorf("media tool invoked: %v %v", tool.listFiles, tool.muxed)
	}
}

func TestConcatFailuresCleanUp(t *testing.T) {
	for _, failOn := range []string{"concat", "mux"} {
		t.Run(failOn, func(t *testing.T) {
			st := store.NewMemory()
			seedScenes(st, 1, 2)
			tool := &fakeTool{failOn: failOn}

			if err := NewConcatStage(tool, st, nil).Run(context.Background(), &types.StageReport{}); err == nil {
				t.Fatal("expected error")
			}
			if st.Exists(store.FinalKey) {
				t.Error("final video stored after failure")
			}
			if len(tool.listFiles) == 0 {
				t.Fatal("no concat list written")
			}
			leftovers := append(append([]string(nil), tool.listFiles...), tool.muxed...)
			leftovers = append(leftovers, filepath.Dir(tool.listFiles[0]))
			for _, p := range leftovers {
				if _, err := os.Stat(p); !os.IsNotExist(err) {
					t.Errorf("%s still present: %v", p, err)
				}
			}
		})
	}
}

type fakeMeta struct{ err error }

func (f fakeMeta) Write(ctx context.Context, script types.Script) (*types.VideoMetadata, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &types.VideoMetadata{Title: "Hue", Visibility: "private"}, nil
}

type fakeUploader struct {
	file  string
	calls int
}

func (f *fakeUploader) Upload(ctx context.Context, videoFile string, meta *types.VideoMetadata) (string, error) {
	f.calls++
	f.file = videoFile
	return "abc123", nil
}

func TestPublishStage(t *testing.T) {
	st := store.NewMemory()
	up := &fakeUploader{}
	s := NewPublishStage("run1", fakeMeta{}, up, st, nil)
	if err := s.Check(); !errors.Is(err, types.ErrMissingDependency) {
		t.Fatalf("Check without final = %v", err)
	}

	saveScript(t, st)
	store.WriteBytes(st, store.FinalKey, []byte("final"))
	if err := s.Run(context.Background(), &types.StageReport{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if up.file != "mem://"+store.FinalKey {
		t.Errorf("uploaded %q", up.file)
	}
	data, _ := st.ReadFile(store.UploadRecordKey)
	for _, want := range []string{`"video_id": "abc123"`, `"run_id": "run1"`, "watch?v=abc123"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("record missing %s:\n%s", want, data)
		}
	}
	if !s.UpToDate() {
		t.Error("UpToDate after publish")
	}
}

type stubStage struct {
	name     types.Stage
	checkErr error
	runErr   error
	upToDate bool
	runs     int
}

func (s *stubStage) Name() types.Stage { return s.name }
func (s *stubStage) Check() error      { return s.checkErr }
func (s *stubStage) UpToDate() bool    { return s.upToDate }
func (s *stubStage) Run(ctx context.Context, rep *types.StageReport) error {
	s.runs++
	return s.runErr
}

func newStubs() []*stubStage {
	return []*stubStage{
		{name: types.StageScript},
		{name: types.StageScenes},
		{name: types.StageConcat},
		{name: types.StagePublish},
	}
}

func driverFor(stubs []*stubStage) *Driver {
	all := make([]Stage, len(stubs))
	for i, s := range stubs {
		all[i] = s
	}
	return NewDriver("run", nil, all...)
}

func statuses(sum *types.RunSummary) string {
	var parts []string
	for _, r := range sum.Stages {
		parts = append(parts, string(r.Stage)+"="+string(r.Status))
	}
	return strings.Join(parts, " ")
}

func TestDriverPlan(t *testing.T) {
	d := driverFor(newStubs())
	plan, _ := d.Plan("all")
	if len(plan) != 3 {
		t.Errorf("all without publish = %d stages", len(plan))
	}
	d.PublishInAll = true
	if plan, _ = d.Plan(""); len(plan) != 4 {
		t.Errorf("all with publish = %d stages", len(plan))
	}
	if plan, _ = d.Plan("concat"); len(plan) != 1 || plan[0].Name() != types.StageConcat {
		t.Errorf("concat plan = %v", plan)
	}
	if _, err := d.Plan("render"); !errors.Is(err, types.ErrInvalidRequest) {
		t.Errorf("unknown selector err = %v", err)
	}
}

func TestDriverStopsAfterFailure(t *testing.T) {
	stubs := newStubs()
	stubs[1].runErr = types.ErrNoScenes
	sum, err := driverFor(stubs).Run(context.Background(), "all")
	if err != nil {
		t.Fatal(err)
	}
	if got := statuses(sum); got != "script=ok scenes=failed concat=skipped" {
		t.Errorf("statuses = %s", got)
	}
	if stubs[2].runs != 0 {
		t.Error("concat ran after failure")
	}
	if !sum.Failed() || !errors.Is(sum.Stages[1].Err, types.ErrNoScenes) {
		t.Errorf("summary = %+v", sum)
	}
}

func TestDriverPreconditionAndUpToDate(t *testing.T) {
	stubs := newStubs()
	stubs[0].upToDate = true
	stubs[2].checkErr = types.ErrMissingDependency
	d := driverFor(stubs)

	sum, _ := d.Run(context.Background(), "all")
	if got := statuses(sum); got != "script=up-to-date scenes=ok concat=failed" {
		t.Errorf("statuses = %s", got)
	}
	if stubs[0].runs != 0 || stubs[2].runs != 0 {
		t.Errorf("runs = %d, %d", stubs[0].runs, stubs[2].runs)
	}

	d.Force = true
	sum, _ = d.Run(context.Background(), "script")
	if got := statuses(sum); got != "script=ok" || stubs[0].runs != 1 {
		t.Errorf("forced: %s, runs %d", got, stubs[0].runs)
	}
}

func TestDriverCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stubs := newStubs()
	sum, _ := driverFor(stubs).Run(ctx, "all")
	if got := statuses(sum); got != "script=failed scenes=skipped concat=skipped" {
		t.Errorf("statuses = %s", got)
	}
}

func TestDriverSkipsSavedScriptWithoutTopic(t *testing.T) {
	st := store.NewMemory()
	saveScript(t, st)
	gen := &fakeGen{reply: twoScenes}
	d := NewDriver("run", nil, NewScriptStage("", gen, nil, st, prompts.Defaults(), ScriptOptions{}, nil))

	sum, _ := d.Run(context.Background(), "all")
	if got := statuses(sum); got != "script=up-to-date" {
		t.Errorf("statuses = %s, err %v", got, sum.Stages[0].Err)
	}
	if len(gen.calls) != 0 {
		t.Errorf("generator called %d times", len(gen.calls))
	}

	d.Force = true
	sum, _ = d.Run(context.Background(), "script")
	if !errors.Is(sum.Stages[0].Err, types.ErrInvalidRequest) {
		t.Errorf("forced without topic err = %v", sum.Stages[0].Err)
	}
}
