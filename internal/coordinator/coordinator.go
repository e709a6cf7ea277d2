// Package coordinator drives one object event through classification,
// locking and relocation.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kacper-wojtaszczyk/jackfruit/filecoord-go/internal/audit"
	"github.com/kacper-wojtaszczyk/jackfruit/filecoord-go/internal/blockwrite"
	"github.com/kacper-wojtaszczyk/jackfruit/filecoord-go/internal/lock"
	"github.com/kacper-wojtaszczyk/jackfruit/filecoord-go/internal/model"
	"github.com/kacper-wojtaszczyk/jackfruit/filecoord-go/internal/relocate"
	"github.com/kacper-wojtaszczyk/jackfruit/filecoord-go/internal/storage"
)

type State string

const (
	StateReceived             State = "received"
	StateClassified           State = "classified"
	StateLocked               State = "locked"
	StateRelocating           State = "relocating"
	StateCompleted            State = "completed"
	StateClassificationFailed State = "classification-failed"
	StateLockDenied           State = "lock-denied"
	StateLookupFailed         State = "lookup-failed"
	StateRelocationFailed     State = "relocation-failed"
)

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateClassificationFailed, StateLockDenied, StateLookupFailed, StateRelocationFailed:
		return true
	}
	return false
}

var (
	ErrLookupFailed     = errors.New("catalog lookup failed")
	ErrRelocationFailed = errors.New("relocation failed")
)

// Classifier turns an object key into a descriptor. An error means the key
// matched a convention but could not be completed from the catalog.
type Classifier interface {
	Classify(ctx context.Context, key, expectedSubfolder, expectedExtension string) (model.Descriptor, bool, error)
}

// Lookup resolves catalog facts about a classified file.
type Lookup interface {
	SourceSystemID(ctx context.Context, d model.Descriptor) (string, error)
	ModuleID(ctx context.Context, srcSysID, filename string) (int, error)
	FactType(ctx context.Context, srcSysID, filename string) (string, error)
	BottlerFileType(ctx context.Context, srcSysID, factType, fileMask string) (string, error)
}

// Modules up to masterDataModule load master data, which has no fact type.
const masterDataModule = 2

// Relocator moves or copies objects into a folder.
type Relocator interface {
	Relocate(ctx context.Context, sources []string, destinationFolder string, opts relocate.Options) []relocate.Outcome
}

// Lister lists objects by key prefix.
type Lister interface {
	List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
}

// ReportWriter writes a text object.
type ReportWriter interface {
	WriteLines(ctx context.Context, key string, lines []string, opts blockwrite.Options) (blockwrite.Result, error)
}

// Recorder persists terminal states.
type Recorder interface {
	Record(ctx context.Context, e audit.Event) error
}

// Deps are the collaborators of a Service. Classifier, Locks and Relocator
// are required; the rest are optional.
type Deps struct {
	Classifier Classifier
	Locks      lock.Store
	Relocator  Relocator
	Lookup     Lookup
	Lister     Lister
	Reports    ReportWriter
	Recorder   Recorder
}

// Report is an object written after a successful relocation.
type Report struct {
	// Folder is relative to the container and accepts the same placeholders
	// as Request.Destination.
	Folder string
	// Name defaults to the processing key with a .csv extension.
	Name string
	// Lines defaults to a CSV manifest of the relocation outcomes.
	Lines       []string
	ContentType string
}

// Request is one object event.
type Request struct {
	Key       string
	Subfolder string
	Extension string
	// Destination is the target folder relative to the container. "{bottler}"
	// and "{container}" are replaced from the descriptor.
	Destination string
	Mode        relocate.Mode
	CopyPrefix  string
	Rename      func(name string) string
	Lease       *relocate.LeaseOptions
	// PollInterval and PollTimeout bound the wait for each copy; zero
	// selects the engine defaults.
	PollInterval time.Duration
	PollTimeout  time.Duration
	// Batch relocates every object sharing the batch prefix, not only Key.
	Batch  bool
	Report *Report
	RunID  model.RunID
}

// Result is the terminal state of one Process call.
type Result struct {
	State          State
	Descriptor     model.Descriptor
	ProcessingKey  string
	SourceSystemID string
	// FactType is the descriptor's fact type, or the one resolved from the
	// catalog when the filename does not encode it.
	FactType string
	// FileType is the catalog file type of a master data bottler file.
	FileType string
	// Holder is the lock record observed when the lock was denied.
	Holder   *lock.Record
	Outcomes []relocate.Outcome
	Report   *blockwrite.Result
}

type Service struct {
	deps Deps
}

func NewService(deps Deps) *Service {
	return &Service{deps: deps}
}

// Process runs req to a terminal state. Classification failure and lock
// denial are reported through Result.State only. Lookup and relocation
// failures also return an error; a lookup failing during classification
// takes no lock.
func (s *Service) Process(ctx context.Context, req Request) (Result, error) {
	if err := req.RunID.Validate(); err != nil {
		return Result{}, err
	}
	slog.DebugContext(ctx, "object event received", "run_id", req.RunID, "object_key", req.Key, "state", StateReceived)

	d, ok, err := s.deps.Classifier.Classify(ctx, req.Key, req.Subfolder, req.Extension)
	if err != nil {
		res := Result{State: StateLookupFailed}
		s.record(ctx, res, req.Key, err.Error())
		return res, fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}
	if !ok {
		res := Result{State: StateClassificationFailed}
		s.record(ctx, res, req.Key, "no naming convention matched")
		return res, nil
	}

	res := Result{State: StateClassified, Descriptor: d, ProcessingKey: d.ProcessingKey(), FactType: d.FactType}
	slog.InfoContext(ctx, "object classified",
		"run_id", req.RunID,
		"kind", string(d.Kind),
		"processing_key", res.ProcessingKey,
		"bottler", d.BottlerName,
		"fact_type", d.FactType,
	)

	acq := s.deps.Locks.TryAcquire(ctx, res.ProcessingKey, string(StateLocked))
	if !acq.Acquired {
		res.State = StateLockDenied
		res.Holder = acq.Holder
		detail := "held by another run"
		if acq.Cause != nil {
			slog.ErrorContext(ctx, "lock store failure treated as denial", "processing_key", res.ProcessingKey, "error", acq.Cause)
			detail = acq.Cause.Error()
		} else if acq.Holder != nil {
			detail = "held in state " + acq.Holder.Status
		}
		s.record(ctx, res, req.Key, detail)
		return res, nil
	}
	res.State = StateLocked

	defer func() {
		if err := s.deps.Locks.Release(context.WithoutCancel(ctx), res.ProcessingKey); err != nil {
			slog.ErrorContext(ctx, "lock release failed", "processing_key", res.ProcessingKey, "error", err)
		}
	}()

	return s.processLocked(ctx, req, res)
}

func (s *Service) processLocked(ctx context.Context, req Request, res Result) (Result, error) {
	d := res.Descriptor

	if s.deps.Lookup != nil && ownedBySourceSystem(d) {
		lookupFailed := func(err error) (Result, error) {
			s.transition(ctx, &res, StateLookupFailed)
			s.record(ctx, res, req.Key, err.Error())
			return res, fmt.Errorf("%w: %w", ErrLookupFailed, err)
		}

		id, err := s.deps.Lookup.SourceSystemID(ctx, d)
		if err != nil {
			return lookupFailed(err)
		}
		res.SourceSystemID = id

		if d.Kind == model.KindInbound && !d.HasFactType() {
			if res.FactType, res.FileType, err = s.unknownSubtype(ctx, id, d); err != nil {
				return lookupFailed(err)
			}
		}
	}

	s.transition(ctx, &res, StateRelocating)

	fail := func(err error) (Result, error) {
		s.transition(ctx, &res, StateRelocationFailed)
		s.record(ctx, res, req.Key, err.Error())
		return res, fmt.Errorf("%w: %w", ErrRelocationFailed, err)
	}

	destination, err := expand(req.Destination, d)
	if err != nil {
		return fail(err)
	}
	sources, err := s.sources(ctx, req, d)
	if err != nil {
		return fail(err)
	}

	opts := relocate.Options{
		Mode:         req.Mode,
		Rename:       req.Rename,
		CopyPrefix:   req.CopyPrefix,
		PollInterval: req.PollInterval,
		PollTimeout:  req.PollTimeout,
	}
	if req.Lease != nil {
		l := *req.Lease
		if l.ID == "" {
			l.ID = req.RunID.String()
		}
		opts.Lease = &l
	}

	res.Outcomes = s.deps.Relocator.Relocate(ctx, sources, destination, opts)
	if failed := relocate.Failed(res.Outcomes); len(failed) > 0 {
		errs := make([]error, 0, len(failed))
		for _, o := range failed {
			errs = append(errs, o.Err)
		}
		return fail(errors.Join(errs...))
	}

	if req.Report != nil {
		written, err := s.writeReport(ctx, req.Report, res)
		if err != nil {
			return fail(fmt.Errorf("write report: %w", err))
		}
		res.Report = &written
	}

	s.transition(ctx, &res, StateCompleted)
	s.record(ctx, res, req.Key, fmt.Sprintf("%d object(s), %s to %s", len(res.Outcomes), req.Mode, destination))
	slog.InfoContext(ctx, "object event completed", "run_id", req.RunID, "processing_key", res.ProcessingKey, "fact_type", res.FactType, "objects", len(res.Outcomes))
	return res, nil
}

// unknownSubtype resolves a bottler file whose subtype token is not a known
// fact. Fact modules yield a fact type, master data modules a file type.
func (s *Service) unknownSubtype(ctx context.Context, srcSysID string, d model.Descriptor) (factType, fileType string, err error) {
	moduleID, err := s.deps.Lookup.ModuleID(ctx, srcSysID, d.Filename)
	if err != nil {
		return "", "", err
	}
	if moduleID <= masterDataModule {
		fileType, err = s.deps.Lookup.BottlerFileType(ctx, srcSysID, "", d.Filetype)
	} else {
		factType, err = s.deps.Lookup.FactType(ctx, srcSysID, d.Filename)
	}
	if err != nil {
		return "", "", err
	}
	slog.DebugContext(ctx, "subtype resolved from catalog",
		"filename", d.Filename,
		"module_id", moduleID,
		"fact_type", factType,
		"file_type", fileType,
	)
	return factType, fileType, nil
}

// sources resolves the keys to relocate. A batch trigger gathers every
// sibling with the same batch prefix and extension.
func (s *Service) sources(ctx context.Context, req Request, d model.Descriptor) ([]string, error) {
	own := sourceKey(d)
	if !req.Batch || !d.HasBatch() || s.deps.Lister == nil {
		return []string{own}, nil
	}

	prefix := storage.ObjectKey{Container: d.ContainerName, Folder: d.PathInContainer, Name: d.BatchPrefix + "_"}.Key()
	objects, err := s.deps.Lister.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list batch %s: %w", d.BatchPrefix, err)
	}

	ext := "." + strings.ToLower(strings.TrimPrefix(req.Extension, "."))
	sources := make([]string, 0, len(objects))
	seen := false
	for _, o := range objects {
		if !strings.HasSuffix(strings.ToLower(o.Key), ext) {
			continue
		}
		k, err := storage.ParseKey(o.Key)
		if err != nil || k.Folder != d.PathInContainer {
			continue
		}
		seen = seen || o.Key == own
		sources = append(sources, o.Key)
	}
	if !seen {
		sources = append(sources, own)
	}
	slog.DebugContext(ctx, "batch resolved", "batch_prefix", d.BatchPrefix, "objects", len(sources))
	return sources, nil
}

func (s *Service) writeReport(ctx context.Context, r *Report, res Result) (blockwrite.Result, error) {
	if s.deps.Reports == nil {
		return blockwrite.Result{}, errors.New("no report writer configured")
	}
	d := res.Descriptor
	folder, err := expand(r.Folder, d)
	if err != nil {
		return blockwrite.Result{}, err
	}
	name := r.Name
	if name == "" {
		name = strings.ReplaceAll(res.ProcessingKey, "/", "_") + ".csv"
	}
	lines := r.Lines
	if lines == nil {
		lines = manifest(res.Outcomes)
	}
	key := storage.ObjectKey{Container: d.ContainerName, Folder: folder, Name: name}.Key()
	return s.deps.Reports.WriteLines(ctx, key, lines, blockwrite.Options{ContentType: r.ContentType})
}

func manifest(outcomes []relocate.Outcome) []string {
	lines := make([]string, 0, len(outcomes)+1)
	lines = append(lines, "source,destination,attempts,source_deleted")
	for _, o := range outcomes {
		lines = append(lines, fmt.Sprintf("%s,%s,%d,%t", o.Source, o.Destination, o.Attempts, o.SourceDeleted))
	}
	return lines
}

// transition moves res to state and mirrors it on the held lock record. A
// failed mirror is logged only.
func (s *Service) transition(ctx context.Context, res *Result, state State) {
	res.State = state
	if err := s.deps.Locks.UpdateStatus(ctx, res.ProcessingKey, string(state)); err != nil {
		slog.WarnContext(ctx, "lock status not updated", "processing_key", res.ProcessingKey, "state", state, "error", err)
	}
}

func (s *Service) record(ctx context.Context, res Result, objectKey, detail string) {
	slog.InfoContext(ctx, "terminal state reached",
		"state", res.State,
		"processing_key", res.ProcessingKey,
		"detail", detail,
	)
	if s.deps.Recorder == nil {
		return
	}
	err := s.deps.Recorder.Record(context.WithoutCancel(ctx), audit.Event{
		ProcessingKey: res.ProcessingKey,
		ObjectKey:     objectKey,
		State:         string(res.State),
		Detail:        detail,
		RecordedAt:    time.Now().UTC(),
	})
	if err != nil {
		slog.WarnContext(ctx, "terminal state not recorded", "state", res.State, "error", err)
	}
}

func ownedBySourceSystem(d model.Descriptor) bool {
	switch d.Kind {
	case model.KindInbound, model.KindUISet:
		return d.BottlerName != ""
	case model.KindExchangeRate:
		return true
	}
	return false
}

func sourceKey(d model.Descriptor) string {
	return storage.ObjectKey{Container: d.ContainerName, Folder: d.PathInContainer, Name: d.Filename}.Key()
}

// expand substitutes descriptor fields into a folder template.
func expand(template string, d model.Descriptor) (string, error) {
	if strings.Contains(template, "{bottler}") && d.BottlerName == "" {
		return "", fmt.Errorf("folder %q needs a bottler but %s has none", template, d.Filename)
	}
	return strings.NewReplacer(
		"{bottler}", d.BottlerName,
		"{container}", d.ContainerName,
	).Replace(template), nil
}
