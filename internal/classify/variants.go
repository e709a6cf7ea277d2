package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/kacper-wojtaszczyk/jackfruit/filecoord-go/internal/model"
)

// batchTimeLayout is the embedded yyyyMMdd_HHmmss batch timestamp.
const batchTimeLayout = "20060102_150405"

// keyPrefix tolerates an arbitrary scheme/host prefix in front of the container.
const keyPrefix = `(?i)^(?:\S*/)?`

// errRejected is returned by a variant whose structure matched key but whose
// content failed a semantic check. No later variant may claim such a key.
var errRejected = errors.New("key rejected")

// variant is one structural matcher over an object key. A false result with a
// nil error leaves the key to the next variant; any other error ends matching.
type variant interface {
	match(ctx context.Context, key string) (model.Descriptor, bool, error)
}

func group(re *regexp.Regexp, m []string, name string) string {
	if i := re.SubexpIndex(name); i >= 0 && i < len(m) {
		return m[i]
	}
	return ""
}

// bottlerVariant matches
// <container>/<bottler>/<subfolder>/<prefix>_<yyyymmdd>_<hhmmss>_<type>_<subtype>.<ext>
type bottlerVariant struct {
	re *regexp.Regexp
}

func newBottlerVariant(subfolder, ext string) *bottlerVariant {
	re := regexp.MustCompile(keyPrefix +
		`(?P<container>[^/]+)/(?P<path>(?P<bottler>[^/]+)/` + regexp.QuoteMeta(subfolder) +
		`)/(?P<filename>(?P<stem>(?P<batch>(?P<prefix>[^_/]+)_(?P<datetime>\d+_\d+)_(?P<type>\w+))_(?P<subtype>\w+))\.` +
		regexp.QuoteMeta(ext) + `)$`)
	return &bottlerVariant{re: re}
}

func (v *bottlerVariant) match(ctx context.Context, key string) (model.Descriptor, bool, error) {
	m := v.re.FindStringSubmatch(key)
	if m == nil {
		return model.Descriptor{}, false, nil
	}

	bottlerFolder := group(v.re, m, "bottler")
	prefix := group(v.re, m, "prefix")
	if !strings.EqualFold(bottlerFolder, prefix) {
		slog.DebugContext(ctx, "bottler folder disagrees with filename prefix", "key", key, "folder", bottlerFolder, "prefix", prefix)
		return model.Descriptor{}, false, errRejected
	}

	batchTime, err := time.Parse(batchTimeLayout, group(v.re, m, "datetime"))
	if err != nil {
		slog.DebugContext(ctx, "batch timestamp does not parse", "key", key, "error", err)
		return model.Descriptor{}, false, errRejected
	}

	subtype := group(v.re, m, "subtype")
	return model.Descriptor{
		Kind:                     model.KindInbound,
		FullURL:                  m[0],
		ContainerName:            group(v.re, m, "container"),
		Subfolder:                bottlerFolder,
		BottlerName:              prefix,
		PathInContainer:          group(v.re, m, "path"),
		Filename:                 group(v.re, m, "filename"),
		FilenameWithoutExtension: group(v.re, m, "stem"),
		BatchPrefix:              group(v.re, m, "batch"),
		BatchDateTime:            batchTime,
		Filetype:                 group(v.re, m, "type"),
		FiletypePrefix:           subtype,
		FactType:                 FactTypeFor(subtype),
	}, true, nil
}

// uiSetVariant matches files submitted through the UI into valid-set-files,
// where the leading name is optional and the file type comes from the catalog.
type uiSetVariant struct {
	re      *regexp.Regexp
	catalog Catalog
}

func newUISetVariant(catalog Catalog) *uiSetVariant {
	return &uiSetVariant{
		re: regexp.MustCompile(keyPrefix +
			`(?P<container>[^/]+)/(?P<path>(?P<bottler>[^/]+)/valid-set-files)/(?P<filename>(?P<stem>(?:\w+_)?(?P<datetime>\d+_\d+)_(?P<filetype>[^./]+))\.csv)$`),
		catalog: catalog,
	}
}

// match surfaces catalog failures: a ui-set file without a source system or
// file type is a data problem, not a foreign key.
func (v *uiSetVariant) match(ctx context.Context, key string) (model.Descriptor, bool, error) {
	m := v.re.FindStringSubmatch(key)
	if m == nil {
		return model.Descriptor{}, false, nil
	}
	batchTime, err := time.Parse(batchTimeLayout, group(v.re, m, "datetime"))
	if err != nil {
		return model.Descriptor{}, false, errRejected
	}

	bottler := group(v.re, m, "bottler")
	d := model.Descriptor{
		Kind:                     model.KindUISet,
		FullURL:                  m[0],
		ContainerName:            group(v.re, m, "container"),
		Subfolder:                bottler,
		BottlerName:              bottler,
		PathInContainer:          group(v.re, m, "path"),
		Filename:                 group(v.re, m, "filename"),
		FilenameWithoutExtension: group(v.re, m, "stem"),
		BatchDateTime:            batchTime,
	}

	if v.catalog == nil || IsCurrencyNeutralFile(d.Filename) {
		return d, true, nil
	}

	srcSysID, err := v.catalog.SourceSystemID(ctx, d)
	if err != nil {
		return model.Descriptor{}, false, fmt.Errorf("ui-set source system for %s: %w", d.Filename, err)
	}
	fileType, err := v.catalog.FileType(ctx, srcSysID)
	if err != nil {
		return model.Descriptor{}, false, fmt.Errorf("ui-set file type for %s: %w", d.Filename, err)
	}
	d.Filetype = fileType
	return d, true, nil
}

// exchangeRateFolder is the pseudo-bottler folder that carries currency files.
const exchangeRateFolder = "auto-curr-ntrl"

// exchangeRateVariant parses bottler exchange-rate files in stages: structure
// first, then source system, fact type and file type from the catalog.
type exchangeRateVariant struct {
	re      *regexp.Regexp
	catalog Catalog
}

func newExchangeRateVariant(catalog Catalog) *exchangeRateVariant {
	return &exchangeRateVariant{
		re: regexp.MustCompile(keyPrefix +
			`(?P<container>[^/]+)/(?P<path>` + exchangeRateFolder + `/valid-set-files)/(?P<filename>(?P<stem>(?:[\w\-]+_)?(?P<datetime>\d+_\d+)_(?P<filetype>[^./]+))\.csv)$`),
		catalog: catalog,
	}
}

// match treats catalog failures as a no-match; exchange-rate sets the catalog
// does not know are left where they are.
func (v *exchangeRateVariant) match(ctx context.Context, key string) (model.Descriptor, bool, error) {
	m := v.re.FindStringSubmatch(key)
	if m == nil {
		return model.Descriptor{}, false, nil
	}
	batchTime, err := time.Parse(batchTimeLayout, group(v.re, m, "datetime"))
	if err != nil {
		return model.Descriptor{}, false, errRejected
	}

	d := model.Descriptor{
		Kind:                     model.KindExchangeRate,
		FullURL:                  m[0],
		ContainerName:            group(v.re, m, "container"),
		Subfolder:                exchangeRateFolder,
		BottlerName:              exchangeRateFolder,
		PathInContainer:          group(v.re, m, "path"),
		Filename:                 group(v.re, m, "filename"),
		FilenameWithoutExtension: group(v.re, m, "stem"),
		BatchDateTime:            batchTime,
		FiletypePrefix:           group(v.re, m, "filetype"),
	}
	if v.catalog == nil {
		return d, true, nil
	}

	srcSysID, err := v.catalog.SourceSystemID(ctx, d)
	if err != nil {
		slog.WarnContext(ctx, "exchange-rate file has no source system", "key", key, "error", err)
		return model.Descriptor{}, false, errRejected
	}
	if d.FactType, err = v.catalog.ModuleFactType(ctx, srcSysID); err != nil {
		slog.WarnContext(ctx, "exchange-rate file has no fact type", "key", key, "src_sys_id", srcSysID, "error", err)
		return model.Descriptor{}, false, errRejected
	}
	if d.Filetype, err = v.catalog.FileType(ctx, srcSysID); err != nil {
		slog.WarnContext(ctx, "exchange-rate file has no file type", "key", key, "src_sys_id", srcSysID, "error", err)
		return model.Descriptor{}, false, errRejected
	}
	return d, true, nil
}

// folderVariant matches <container>/<bottler>/<folder>/<name>.<ext> with no
// structure imposed on the filename.
type folderVariant struct {
	re     *regexp.Regexp
	kind   model.Kind
	folder string
}

func newFolderVariant(kind model.Kind, folder, nameClass, extAlternatives string) *folderVariant {
	return &folderVariant{
		re: regexp.MustCompile(keyPrefix +
			`(?P<container>[^/]+)/(?P<path>(?P<bottler>[^/]+)/` + regexp.QuoteMeta(folder) +
			`)/(?P<filename>(?P<stem>` + nameClass + `)\.(?:` + extAlternatives + `))$`),
		kind:   kind,
		folder: folder,
	}
}

func (v *folderVariant) match(ctx context.Context, key string) (model.Descriptor, bool, error) {
	m := v.re.FindStringSubmatch(key)
	if m == nil {
		return model.Descriptor{}, false, nil
	}
	if v.kind == model.KindLanding {
		if folder, ok := IsV3LandingFile(key); folder != "" && !ok {
			slog.DebugContext(ctx, "landing submission names another bottler", "key", key, "folder", folder)
			return model.Descriptor{}, false, errRejected
		}
	}
	d := model.Descriptor{
		Kind:                     v.kind,
		FullURL:                  m[0],
		ContainerName:            group(v.re, m, "container"),
		Subfolder:                v.folder,
		BottlerName:              group(v.re, m, "bottler"),
		PathInContainer:          group(v.re, m, "path"),
		Filename:                 group(v.re, m, "filename"),
		FilenameWithoutExtension: group(v.re, m, "stem"),
	}
	if v.kind == model.KindNonCurated {
		// <anything>_<fact>_<type>: the last two tokens carry fact and file type.
		tokens := strings.Split(d.FilenameWithoutExtension, "_")
		if n := len(tokens); n > 1 {
			d.FactType = tokens[n-2]
			d.Filetype = tokens[n-2] + "_" + tokens[n-1]
		}
	}
	return d, true, nil
}

var v3LandingRegex = regexp.MustCompile(`(?i)(?:^|/)(?:[^/]+)/(?P<folder>[^/]+)/landing-files/(?P<filename>(?P<prefix>[^_/]+)_[^/]+\.csv)$`)

// IsV3LandingFile reports whether key is a v3 bottler submission dropped in
// landing-files, returning the bottler folder. ok is false when the folder and
// the filename prefix disagree.
func IsV3LandingFile(key string) (folder string, ok bool) {
	m := v3LandingRegex.FindStringSubmatch(key)
	if m == nil || !isSubmissionFile(group(v3LandingRegex, m, "filename")) {
		return "", false
	}
	folder = group(v3LandingRegex, m, "folder")
	return folder, strings.EqualFold(folder, group(v3LandingRegex, m, "prefix"))
}
