package core

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gridlink-labs/gridlink/internal/cache"
	"github.com/gridlink-labs/gridlink/internal/config"
	"github.com/gridlink-labs/gridlink/internal/errdefs"
	"github.com/gridlink-labs/gridlink/internal/events"
	"github.com/gridlink-labs/gridlink/internal/logging"
	"github.com/gridlink-labs/gridlink/internal/models"
	"github.com/gridlink-labs/gridlink/internal/remote"
	"github.com/gridlink-labs/gridlink/internal/scheduler"
)

// fakeRemote is an in-memory stand-in for the SSH session. It records
// every executed command and serves a flat path-keyed file system.
type fakeRemote struct {
	mu        sync.Mutex
	fs        map[string][]byte
	dirs      map[string]bool
	cmds      []string
	mkdirFail int // fail this many MkdirAll calls with a transient error
	execHook  func(cmd string) (int, string, string, error)
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{fs: map[string][]byte{}, dirs: map[string]bool{}}
}

func (f *fakeRemote) Execute(_ context.Context, cmd string) (int, string, string, error) {
	f.mu.Lock()
	f.cmds = append(f.cmds, cmd)
	hook := f.execHook
	f.mu.Unlock()
	if hook != nil {
		return hook(cmd)
	}
	return 0, "", "", nil
}

func (f *fakeRemote) Upload(_ context.Context, localPath, remotePath string, onProgress remote.ProgressFunc) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.fs[remotePath] = data
	f.mu.Unlock()
	if onProgress != nil {
		onProgress(100)
	}
	return nil
}

func (f *fakeRemote) Download(_ context.Context, remotePath, localPath string, onProgress remote.ProgressFunc) error {
	f.mu.Lock()
	data, ok := f.fs[remotePath]
	f.mu.Unlock()
	if !ok {
		return errdefs.ErrNotFound
	}
	if onProgress != nil {
		onProgress(100)
	}
	return os.WriteFile(localPath, data, 0o644)
}

func (f *fakeRemote) MkdirAll(_ context.Context, remotePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mkdirFail > 0 {
		f.mkdirFail--
		return errors.New("dial tcp: i/o timeout")
	}
	f.dirs[remotePath] = true
	return nil
}

func (f *fakeRemote) ReadFile(_ context.Context, remotePath string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.fs[remotePath]
	if !ok {
		return nil, errdefs.ErrNotFound
	}
	return data, nil
}

func (f *fakeRemote) WriteFile(_ context.Context, remotePath string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fs[remotePath] = data
	return nil
}

func (f *fakeRemote) ReadDir(_ context.Context, remotePath string) ([]os.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []os.FileInfo
	prefix := strings.TrimSuffix(remotePath, "/") + "/"
	seen := map[string]bool{}
	for d := range f.dirs {
		if strings.HasPrefix(d, prefix) {
			name := strings.SplitN(strings.TrimPrefix(d, prefix), "/", 2)[0]
			if !seen[name] {
				seen[name] = true
				out = append(out, fakeInfo{name: name, dir: true})
			}
		}
	}
	for p := range f.fs {
		if strings.HasPrefix(p, prefix) && !strings.Contains(strings.TrimPrefix(p, prefix), "/") {
			out = append(out, fakeInfo{name: path.Base(p)})
		}
	}
	if len(out) == 0 && !f.dirs[strings.TrimSuffix(remotePath, "/")] {
		return nil, errdefs.ErrNotFound
	}
	return out, nil
}

func (f *fakeRemote) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cmds...)
}

type fakeInfo struct {
	name string
	dir  bool
}

func (fi fakeInfo) Name() string       { return fi.name }
func (fi fakeInfo) Size() int64        { return 0 }
func (fi fakeInfo) Mode() os.FileMode  { return 0o755 }
func (fi fakeInfo) ModTime() time.Time { return time.Time{} }
func (fi fakeInfo) IsDir() bool        { return fi.dir }
func (fi fakeInfo) Sys() interface{}   { return nil }

// fakeScheduler serves canned submit ids and status rows.
type fakeScheduler struct {
	mu          sync.Mutex
	nextID      string
	submitErr   error
	submitCalls int
	rows        []scheduler.StatusRow
	cancelled   []string
}

func (f *fakeScheduler) Submit(_ context.Context, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls++
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.nextID, nil
}

func (f *fakeScheduler) Query(_ context.Context, _ []string) ([]scheduler.StatusRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]scheduler.StatusRow(nil), f.rows...), nil
}

func (f *fakeScheduler) Cancel(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeScheduler) setRows(rows ...scheduler.StatusRow) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = rows
}

func testEngine(t *testing.T) (*Engine, *fakeRemote, *fakeScheduler) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Host = "hpc.example.com"
	cfg.Username = "alice"
	cfg.Retry = config.RetryConfig{MaxAttempts: 3, InitialDelayMS: 1, Multiplier: 2, MaxDelayMS: 5, MaxElapsedSec: 5}

	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	fr := newFakeRemote()
	fs := &fakeScheduler{nextID: "555"}
	loader := func(id string) (string, error) {
		if id != "t1" {
			return "", &errdefs.ValidationError{Field: "template", Msg: "unknown template " + id}
		}
		return "srun echo hello\n", nil
	}
	eng := NewEngine(cfg, fr, fs, store, events.NewEventBus(0), logging.NewLogger(os.Stderr), loader)
	return eng, fr, fs
}

func createParams(t *testing.T, inputs ...string) models.CreateParams {
	t.Helper()
	var locals []string
	for _, name := range inputs {
		p := filepath.Join(t.TempDir(), name)
		if err := os.WriteFile(p, []byte("data for "+name), 0o644); err != nil {
			t.Fatalf("write input: %v", err)
		}
		locals = append(locals, p)
	}
	return models.CreateParams{
		JobName:    "run1",
		TemplateID: "t1",
		Values:     map[string]string{"CASE": "a"},
		Resources:  models.ResourceRequest{Cores: 4, Walltime: "01:00:00"},
		InputFiles: locals,
	}
}

func TestCreateJob(t *testing.T) {
	eng, fr, _ := testEngine(t)

	desc, err := eng.CreateJob(context.Background(), createParams(t, "mesh.dat"))
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if desc.Status != models.StatusCreated {
		t.Errorf("status = %s, want CREATED", desc.Status)
	}
	wantDir := "/projects/gridlink/run1_" + desc.JobID
	if desc.ProjectDir != wantDir {
		t.Errorf("project dir = %s, want %s", desc.ProjectDir, wantDir)
	}

	if _, ok := fr.fs[path.Join(wantDir, "input_files", "mesh.dat")]; !ok {
		t.Error("input file not uploaded")
	}
	script, ok := fr.fs[path.Join(wantDir, "config")]
	if !ok {
		t.Fatal("batch script not staged")
	}
	if !strings.Contains(string(script), "#SBATCH --job-name=run1") {
		t.Errorf("script missing job-name directive:\n%s", script)
	}

	meta, ok := fr.fs[path.Join(wantDir, "job_info")]
	if !ok {
		t.Fatal("creation metadata not written")
	}
	var onRemote models.JobDescriptor
	if err := json.Unmarshal(meta, &onRemote); err != nil {
		t.Fatalf("metadata not valid JSON: %v", err)
	}
	if onRemote.JobID != desc.JobID || onRemote.Status != models.StatusCreated {
		t.Errorf("remote metadata mismatch: %+v", onRemote)
	}

	cached, err := eng.Job(desc.JobID)
	if err != nil {
		t.Fatalf("cache miss after create: %v", err)
	}
	if cached.Status != models.StatusCreated {
		t.Errorf("cached status = %s", cached.Status)
	}
}

func TestCreateJob_InvalidName(t *testing.T) {
	eng, fr, _ := testEngine(t)

	params := createParams(t)
	params.JobName = "../evil"
	_, err := eng.CreateJob(context.Background(), params)
	var verr *errdefs.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(fr.commands()) != 0 || len(fr.dirs) != 0 {
		t.Error("validation failure still touched the remote")
	}
}

func TestCreateJob_RetriesTransientMkdir(t *testing.T) {
	eng, fr, _ := testEngine(t)
	fr.mkdirFail = 2

	desc, err := eng.CreateJob(context.Background(), createParams(t))
	if err != nil {
		t.Fatalf("CreateJob should survive transient mkdir failures: %v", err)
	}
	if !fr.dirs[desc.ProjectDir] {
		t.Error("project dir never created")
	}
}

func TestSubmitJob(t *testing.T) {
	eng, fr, fs := testEngine(t)
	desc, err := eng.CreateJob(context.Background(), createParams(t, "mesh.dat"))
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if err := eng.SubmitJob(context.Background(), desc.JobID); err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	cached, _ := eng.Job(desc.JobID)
	if cached.Status != models.StatusPending {
		t.Errorf("status = %s, want PENDING", cached.Status)
	}
	if cached.SchedulerJobID != "555" {
		t.Errorf("scheduler id = %q, want 555", cached.SchedulerJobID)
	}
	if cached.SubmittedAt == nil {
		t.Error("SubmittedAt not set")
	}
	if fs.submitCalls != 1 {
		t.Errorf("submit calls = %d, want 1", fs.submitCalls)
	}

	var mirrored bool
	for _, cmd := range fr.commands() {
		if strings.HasPrefix(cmd, "cp -r ") && strings.Contains(cmd, "input_files") {
			mirrored = true
		}
	}
	if !mirrored {
		t.Error("inputs never mirrored to scratch")
	}

	var onRemote models.JobDescriptor
	if err := json.Unmarshal(fr.fs[path.Join(cached.ProjectDir, "job_info")], &onRemote); err != nil {
		t.Fatalf("submission metadata unreadable: %v", err)
	}
	if onRemote.Status != models.StatusPending || onRemote.SchedulerJobID != "555" {
		t.Errorf("submission boundary not persisted: %+v", onRemote)
	}
}

func TestSubmitJob_RejectsDoubleSubmit(t *testing.T) {
	eng, _, fs := testEngine(t)
	desc, _ := eng.CreateJob(context.Background(), createParams(t))
	if err := eng.SubmitJob(context.Background(), desc.JobID); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	err := eng.SubmitJob(context.Background(), desc.JobID)
	var verr *errdefs.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError on double submit, got %v", err)
	}
	if fs.submitCalls != 1 {
		t.Errorf("scheduler reached %d times, want 1", fs.submitCalls)
	}
}

func TestSync_AutoCompletes(t *testing.T) {
	eng, fr, fs := testEngine(t)
	desc, _ := eng.CreateJob(context.Background(), createParams(t))
	if err := eng.SubmitJob(context.Background(), desc.JobID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	fs.setRows(scheduler.StatusRow{SchedulerJobID: "555", State: models.StatusCompleted, RawState: "CD"})

	res, err := eng.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Completed != 1 {
		t.Errorf("completed = %d, want 1", res.Completed)
	}

	cached, _ := eng.Job(desc.JobID)
	if cached.Status != models.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", cached.Status)
	}
	if cached.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}

	// Results must be copied back before the completion record lands.
	var copied bool
	for _, cmd := range fr.commands() {
		if strings.HasPrefix(cmd, "cp -r ") && strings.Contains(cmd, "outputs") {
			copied = true
		}
	}
	if !copied {
		t.Error("results never copied to outputs")
	}
	var onRemote models.JobDescriptor
	if err := json.Unmarshal(fr.fs[path.Join(cached.ProjectDir, "job_info")], &onRemote); err != nil {
		t.Fatalf("completion metadata unreadable: %v", err)
	}
	if onRemote.Status != models.StatusCompleted {
		t.Errorf("completion boundary not persisted: %+v", onRemote)
	}
}

func TestCompleteJob_CopyFailureWritesNoMetadata(t *testing.T) {
	eng, fr, fs := testEngine(t)
	desc, _ := eng.CreateJob(context.Background(), createParams(t))
	if err := eng.SubmitJob(context.Background(), desc.JobID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	fs.setRows(scheduler.StatusRow{SchedulerJobID: "555", State: models.StatusCompleted, RawState: "CD"})
	fr.execHook = func(cmd string) (int, string, string, error) {
		if strings.HasPrefix(cmd, "cp -r ") && strings.Contains(cmd, "outputs") {
			return 1, "", "cp: cannot stat scratch dir", nil
		}
		return 0, "", "", nil
	}

	if err := eng.CompleteJob(context.Background(), desc.JobID); err == nil {
		t.Fatal("CompleteJob should fail when the result copy fails")
	}

	// The completion record must not exist before the outputs do.
	var onRemote models.JobDescriptor
	if err := json.Unmarshal(fr.fs[path.Join(desc.ProjectDir, "job_info")], &onRemote); err != nil {
		t.Fatalf("metadata unreadable: %v", err)
	}
	if onRemote.Status != models.StatusPending {
		t.Errorf("remote metadata = %s, want PENDING", onRemote.Status)
	}
	cached, _ := eng.Job(desc.JobID)
	if cached.Status != models.StatusPending {
		t.Errorf("cached status = %s, want PENDING", cached.Status)
	}
}

func TestCompleteJob_Preconditions(t *testing.T) {
	eng, _, fs := testEngine(t)
	ctx := context.Background()
	desc, _ := eng.CreateJob(ctx, createParams(t))
	if err := eng.SubmitJob(ctx, desc.JobID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// A job the scheduler reports FAILED is not completable.
	fs.setRows(scheduler.StatusRow{SchedulerJobID: "555", State: models.StatusFailed, RawState: "F"})
	if _, err := eng.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	err := eng.CompleteJob(ctx, desc.JobID)
	var verr *errdefs.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for FAILED job, got %v", err)
	}

	// A job already COMPLETED is a no-op, so sync re-runs stay safe.
	stored, _ := eng.store.Get(desc.JobID)
	now := time.Now().UTC()
	stored.Status = models.StatusCompleted
	stored.CompletedAt = &now
	if err := eng.store.Put(stored); err != nil {
		t.Fatalf("seed completed entry: %v", err)
	}
	if err := eng.CompleteJob(ctx, desc.JobID); err != nil {
		t.Errorf("repeat completion should be a no-op, got %v", err)
	}
}

func TestSync_FailedUpdatesCacheOnly(t *testing.T) {
	eng, fr, fs := testEngine(t)
	desc, _ := eng.CreateJob(context.Background(), createParams(t))
	if err := eng.SubmitJob(context.Background(), desc.JobID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	fs.setRows(scheduler.StatusRow{SchedulerJobID: "555", State: models.StatusFailed, RawState: "F"})

	if _, err := eng.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	cached, _ := eng.Job(desc.JobID)
	if cached.Status != models.StatusFailed {
		t.Errorf("status = %s, want FAILED", cached.Status)
	}

	// The remote record stays at the submission boundary; failures do
	// not rewrite metadata.
	var onRemote models.JobDescriptor
	if err := json.Unmarshal(fr.fs[path.Join(cached.ProjectDir, "job_info")], &onRemote); err != nil {
		t.Fatalf("metadata unreadable: %v", err)
	}
	if onRemote.Status != models.StatusPending {
		t.Errorf("remote metadata = %s, want PENDING", onRemote.Status)
	}
}

func TestSync_UnknownStateLeavesJobUntouched(t *testing.T) {
	eng, _, fs := testEngine(t)
	desc, _ := eng.CreateJob(context.Background(), createParams(t))
	if err := eng.SubmitJob(context.Background(), desc.JobID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	fs.setRows(scheduler.StatusRow{SchedulerJobID: "555", State: models.StatusUnknown, RawState: "RV"})

	res, err := eng.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Updated != 0 {
		t.Errorf("updated = %d, want 0", res.Updated)
	}
	cached, _ := eng.Job(desc.JobID)
	if cached.Status != models.StatusPending {
		t.Errorf("status = %s, want PENDING", cached.Status)
	}
}

func TestSync_DiscoversJobsFromRemote(t *testing.T) {
	eng, fr, _ := testEngine(t)

	remoteDesc := &models.JobDescriptor{
		JobID:      "beef0001",
		JobName:    "lost",
		Status:     models.StatusCreated,
		ProjectDir: "/projects/gridlink/lost_beef0001",
		CreatedAt:  time.Now().UTC(),
		Resources:  models.ResourceRequest{Cores: 2, Walltime: "00:10:00"},
	}
	data, _ := json.Marshal(remoteDesc)
	fr.dirs["/projects/gridlink/lost_beef0001"] = true
	fr.fs["/projects/gridlink/lost_beef0001/job_info"] = data

	res, err := eng.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(res.Jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(res.Jobs))
	}
	if res.Jobs[0].JobID != "beef0001" {
		t.Errorf("recovered wrong job: %+v", res.Jobs[0])
	}

	// A second pass must not duplicate the recovered job.
	res, err = eng.Sync(context.Background())
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if len(res.Jobs) != 1 {
		t.Errorf("jobs after second pass = %d, want 1", len(res.Jobs))
	}
}

func TestFetchResults(t *testing.T) {
	eng, fr, fs := testEngine(t)
	desc, _ := eng.CreateJob(context.Background(), createParams(t))
	if err := eng.SubmitJob(context.Background(), desc.JobID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	fs.setRows(scheduler.StatusRow{SchedulerJobID: "555", State: models.StatusCompleted, RawState: "CD"})
	if err := eng.CompleteJob(context.Background(), desc.JobID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	outputs := path.Join(desc.ProjectDir, "outputs")
	fr.fs[path.Join(outputs, "result.csv")] = []byte("t,u\n0,1\n")
	fr.fs[path.Join(outputs, "slurm-555.out")] = []byte("done\n")

	localDir := t.TempDir()
	paths, err := eng.FetchResults(context.Background(), desc.JobID, localDir)
	if err != nil {
		t.Fatalf("FetchResults: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("fetched %d files, want 2", len(paths))
	}
	data, err := os.ReadFile(filepath.Join(localDir, "result.csv"))
	if err != nil {
		t.Fatalf("read fetched file: %v", err)
	}
	if string(data) != "t,u\n0,1\n" {
		t.Errorf("fetched content mismatch: %q", data)
	}
}

func TestFetchResults_RequiresCompleted(t *testing.T) {
	eng, _, _ := testEngine(t)
	desc, _ := eng.CreateJob(context.Background(), createParams(t))

	_, err := eng.FetchResults(context.Background(), desc.JobID, t.TempDir())
	var verr *errdefs.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("expected ValidationError for non-completed job, got %v", err)
	}
}

func TestDeleteJob_RemoteBeforeCache(t *testing.T) {
	eng, fr, _ := testEngine(t)
	desc, _ := eng.CreateJob(context.Background(), createParams(t))

	if err := eng.DeleteJob(context.Background(), desc.JobID, true); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}

	var removed int
	for _, cmd := range fr.commands() {
		if strings.HasPrefix(cmd, "rm -rf -- ") {
			removed++
		}
	}
	if removed != 2 {
		t.Errorf("removal commands = %d, want 2 (project and scratch)", removed)
	}
	if _, err := eng.Job(desc.JobID); !errors.Is(err, errdefs.ErrNotFound) {
		t.Errorf("cache entry should be gone, got %v", err)
	}
}

func TestDeleteJob_RemoteFailureKeepsCache(t *testing.T) {
	eng, fr, _ := testEngine(t)
	desc, _ := eng.CreateJob(context.Background(), createParams(t))
	fr.execHook = func(cmd string) (int, string, string, error) {
		if strings.HasPrefix(cmd, "rm -rf -- ") {
			return 1, "", "permission denied by policy", nil
		}
		return 0, "", "", nil
	}

	if err := eng.DeleteJob(context.Background(), desc.JobID, true); err == nil {
		t.Fatal("DeleteJob should fail when remote removal fails")
	}
	if _, err := eng.Job(desc.JobID); err != nil {
		t.Errorf("cache entry must survive a failed remote delete: %v", err)
	}
}

func TestDeleteJob_RefusesRoot(t *testing.T) {
	eng, fr, _ := testEngine(t)
	desc, _ := eng.CreateJob(context.Background(), createParams(t))

	// Simulate a corrupted cache entry pointing at the root.
	stored, _ := eng.store.Get(desc.JobID)
	stored.ProjectDir = "/projects/gridlink"
	if err := eng.store.Put(stored); err != nil {
		t.Fatalf("seed corrupt entry: %v", err)
	}

	err := eng.DeleteJob(context.Background(), desc.JobID, true)
	var verr *errdefs.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	for _, cmd := range fr.commands() {
		if strings.HasPrefix(cmd, "rm -rf") {
			t.Fatalf("removal command issued against invalid dir: %s", cmd)
		}
	}
}

func TestDeleteJob_CancelsActiveJob(t *testing.T) {
	eng, _, fs := testEngine(t)
	desc, _ := eng.CreateJob(context.Background(), createParams(t))
	if err := eng.SubmitJob(context.Background(), desc.JobID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := eng.DeleteJob(context.Background(), desc.JobID, true); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if len(fs.cancelled) != 1 || fs.cancelled[0] != "555" {
		t.Errorf("active job not cancelled before removal: %v", fs.cancelled)
	}
}

func TestCancelJob(t *testing.T) {
	eng, _, fs := testEngine(t)
	desc, _ := eng.CreateJob(context.Background(), createParams(t))
	if err := eng.SubmitJob(context.Background(), desc.JobID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := eng.CancelJob(context.Background(), desc.JobID); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if len(fs.cancelled) != 1 {
		t.Errorf("scancel calls = %d, want 1", len(fs.cancelled))
	}
	cached, _ := eng.Job(desc.JobID)
	if cached.Status != models.StatusCancelled {
		t.Errorf("status = %s, want CANCELLED", cached.Status)
	}

	// Cancelling a job that is already terminal is a precondition error.
	if err := eng.CancelJob(context.Background(), desc.JobID); err == nil {
		t.Error("second cancel should fail")
	}
}

func TestLifecycleEndToEnd(t *testing.T) {
	eng, _, fs := testEngine(t)
	ctx := context.Background()

	desc, err := eng.CreateJob(ctx, createParams(t, "mesh.dat", "solver.in"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := eng.SubmitJob(ctx, desc.JobID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	fs.setRows(scheduler.StatusRow{SchedulerJobID: "555", State: models.StatusRunning, RawState: "R"})
	if _, err := eng.Sync(ctx); err != nil {
		t.Fatalf("sync (running): %v", err)
	}
	cached, _ := eng.Job(desc.JobID)
	if cached.Status != models.StatusRunning {
		t.Fatalf("status = %s, want RUNNING", cached.Status)
	}

	fs.setRows(scheduler.StatusRow{SchedulerJobID: "555", State: models.StatusCompleted, RawState: "CD"})
	if _, err := eng.Sync(ctx); err != nil {
		t.Fatalf("sync (completed): %v", err)
	}
	cached, _ = eng.Job(desc.JobID)
	if cached.Status != models.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", cached.Status)
	}

	if err := eng.DeleteJob(ctx, desc.JobID, true); err != nil {
		t.Fatalf("delete: %v", err)
	}
	jobs, _ := eng.Jobs()
	if len(jobs) != 0 {
		t.Errorf("cache not empty after delete: %d entries", len(jobs))
	}
}
