package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-shell/internal/permission"
)

// FileSystemName is the bridge name of the file system plugin.
const FileSystemName = "AbsFileSystem"

// RequestCodeFolderPicker is the request code of the folder picker activity.
const RequestCodeFolderPicker = 2

// ActionOpenFolder asks the UI to let the user pick a folder.
const ActionOpenFolder = "openFolder"

// EventFolderSelected is emitted when the folder picker returns.
const EventFolderSelected = "onFolderSelected"

// Activity result codes.
const (
	ResultOK       = -1
	ResultCanceled = 0
)

const (
	foldersKey       = "localFolders"
	bundlePendingKey = "storage.pending"
)

// ActivityStarter starts an activity on the UI. The result comes back through
// the coordinator's OnActivityResult.
type ActivityStarter interface {
	StartActivityForResult(code int, action string, extras map[string]any) error
}

// StoragePermission is the permission gate as seen by storage plugins.
type StoragePermission interface {
	Check(perms ...string) bool
	CheckAndRequest(perms ...string) bool
	Outcome() permission.Outcome
}

// storageAccess applies the storage plugins' permission policy. It returns true
// when storage read is granted. A recorded denial is returned as an error without
// prompting again; only requestStoragePermission prompts after a denial. Otherwise
// the permission is requested and false is returned until the answer arrives.
func storageAccess(perms StoragePermission) (bool, error) {
	if perms.Check(permission.StorageRead) {
		return true, nil
	}
	for _, p := range perms.Outcome().Denied {
		if p == permission.StorageRead {
			return false, fmt.Errorf("%w: %s", permission.ErrPermissionDenied, p)
		}
	}
	return perms.CheckAndRequest(permission.StorageRead), nil
}

// Folder is a local folder the user picked.
type Folder struct {
	ID   string `json:"id"`
	URI  string `json:"uri"`
	Name string `json:"name"`
}

// StorageHelper runs activity round trips for storage access and keeps the
// outstanding ones across a save/restore of instance state.
type StorageHelper struct {
	// StartDir is offered to the folder picker as its initial location.
	StartDir string

	starter ActivityStarter
	store   ItemStore
	emit    Emitter

	mu            sync.Mutex
	pending       map[int]string
	awaitingGrant bool
}

// NewStorageHelper creates a storage helper.
func NewStorageHelper(starter ActivityStarter, store ItemStore, emit Emitter) *StorageHelper {
	return &StorageHelper{
		starter: starter,
		store:   store,
		emit:    emit,
		pending: make(map[int]string),
	}
}

// SelectFolder opens the folder picker unless one is already open.
func (h *StorageHelper) SelectFolder() error {
	h.mu.Lock()
	h.awaitingGrant = false
	if _, ok := h.pending[RequestCodeFolderPicker]; ok {
		h.mu.Unlock()
		log.Debug().Msg("Folder picker already open")
		return nil
	}
	h.pending[RequestCodeFolderPicker] = ActionOpenFolder
	h.mu.Unlock()

	if err := h.starter.StartActivityForResult(RequestCodeFolderPicker, ActionOpenFolder, h.extras(ActionOpenFolder)); err != nil {
		h.mu.Lock()
		delete(h.pending, RequestCodeFolderPicker)
		h.mu.Unlock()
		return fmt.Errorf("open folder picker: %w", err)
	}
	return nil
}

func (h *StorageHelper) extras(action string) map[string]any {
	if action != ActionOpenFolder || h.StartDir == "" {
		return nil
	}
	return map[string]any{"initialPath": h.StartDir}
}

// selectAfterGrant opens the folder picker once storage permission is granted.
func (h *StorageHelper) selectAfterGrant() {
	h.mu.Lock()
	h.awaitingGrant = true
	h.mu.Unlock()
}

func (h *StorageHelper) cancelAfterGrant() {
	h.mu.Lock()
	h.awaitingGrant = false
	h.mu.Unlock()
}

// Pending returns the request codes still waiting for a result.
func (h *StorageHelper) Pending() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	codes := make([]int, 0, len(h.pending))
	for code := range h.pending {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	return codes
}

// OnSaveInstanceState stores the outstanding requests in b.
func (h *StorageHelper) OnSaveInstanceState(b map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.pending) == 0 {
		return
	}
	pending := make(map[string]any, len(h.pending))
	for code, action := range h.pending {
		pending[strconv.Itoa(code)] = action
	}
	b[bundlePendingKey] = pending
}

// OnRestoreInstanceState restores the outstanding requests saved in b and starts
// them again, since the UI that would have answered them is gone.
func (h *StorageHelper) OnRestoreInstanceState(b map[string]any) {
	raw, ok := b[bundlePendingKey].(map[string]any)
	if !ok {
		return
	}

	restored := make(map[int]string, len(raw))
	h.mu.Lock()
	for k, v := range raw {
		code, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		action, _ := v.(string)
		if action == "" {
			continue
		}
		h.pending[code] = action
		restored[code] = action
	}
	h.mu.Unlock()

	codes := make([]int, 0, len(restored))
	for code := range restored {
		codes = append(codes, code)
	}
	sort.Ints(codes)

	for _, code := range codes {
		action := restored[code]
		if err := h.starter.StartActivityForResult(code, action, h.extras(action)); err != nil {
			log.Error().Err(err).Int("request_code", code).Msg("Failed to restart restored request")
			h.mu.Lock()
			delete(h.pending, code)
			h.mu.Unlock()
		}
	}
	log.Debug().Ints("restarted", codes).Msg("Restored storage requests")
}

// OnActivityResult handles the result of a request started by the helper. It
// returns false for request codes the helper does not own.
func (h *StorageHelper) OnActivityResult(code, resultCode int, data map[string]any) bool {
	h.mu.Lock()
	_, ok := h.pending[code]
	delete(h.pending, code)
	h.mu.Unlock()

	if !ok {
		return false
	}

	if resultCode != ResultOK {
		log.Info().Int("request_code", code).Int("result_code", resultCode).Msg("Folder selection cancelled")
		h.emit.Emit(EventFolderSelected, map[string]any{"canceled": true})
		return true
	}

	uri, _ := data["uri"].(string)
	if uri == "" {
		log.Warn().Int("request_code", code).Msg("Folder picker returned no uri")
		h.emit.Emit(EventFolderSelected, map[string]any{"error": "no folder"})
		return true
	}

	name, _ := data["name"].(string)
	if name == "" {
		name = path.Base(uri)
	}
	folder := Folder{ID: uuid.NewString(), URI: uri, Name: name}

	if err := h.addFolder(folder); err != nil {
		log.Error().Err(err).Str("uri", uri).Msg("Failed to save folder")
		h.emit.Emit(EventFolderSelected, map[string]any{"error": err.Error()})
		return true
	}

	log.Info().Str("uri", uri).Str("id", folder.ID).Msg("Folder selected")
	h.emit.Emit(EventFolderSelected, folder)
	return true
}

// OnRequestPermissionsResult continues a folder selection that was waiting for
// storage permission.
func (h *StorageHelper) OnRequestPermissionsResult(code int, perms []string, results []permission.Result) {
	if code != permission.RequestCodePermissions {
		return
	}

	h.mu.Lock()
	awaiting := h.awaitingGrant
	h.awaitingGrant = false
	h.mu.Unlock()

	if !awaiting {
		return
	}

	for i, p := range perms {
		if p == permission.StorageRead && i < len(results) && results[i] == permission.Granted {
			if err := h.SelectFolder(); err != nil {
				log.Error().Err(err).Msg("Failed to continue folder selection")
			}
			return
		}
	}
	log.Info().Msg("Storage permission refused, folder selection dropped")
}

// Folders returns the saved folders.
func (h *StorageHelper) Folders() ([]Folder, error) {
	raw, ok, err := h.store.GetItem(foldersKey)
	if err != nil {
		return nil, err
	}
	folders := []Folder{}
	if !ok {
		return folders, nil
	}
	if err := json.Unmarshal([]byte(raw), &folders); err != nil {
		return nil, fmt.Errorf("decode folders: %w", err)
	}
	return folders, nil
}

func (h *StorageHelper) addFolder(f Folder) error {
	folders, err := h.Folders()
	if err != nil {
		return err
	}
	for _, existing := range folders {
		if existing.URI == f.URI {
			return nil
		}
	}
	return h.saveFolders(append(folders, f))
}

// RemoveFolder deletes a saved folder by id.
func (h *StorageHelper) RemoveFolder(id string) (bool, error) {
	folders, err := h.Folders()
	if err != nil {
		return false, err
	}
	kept := folders[:0]
	for _, f := range folders {
		if f.ID != id {
			kept = append(kept, f)
		}
	}
	if len(kept) == len(folders) {
		return false, nil
	}
	return true, h.saveFolders(kept)
}

func (h *StorageHelper) saveFolders(folders []Folder) error {
	data, err := json.Marshal(folders)
	if err != nil {
		return err
	}
	return h.store.SetItem(foldersKey, string(data))
}

// FileSystem exposes folder selection to the UI.
type FileSystem struct {
	helper *StorageHelper
	perms  StoragePermission
}

// NewFileSystem creates the file system plugin.
func NewFileSystem(helper *StorageHelper, perms StoragePermission) *FileSystem {
	return &FileSystem{helper: helper, perms: perms}
}

// Name implements Plugin.
func (f *FileSystem) Name() string { return FileSystemName }

// Load implements Plugin.
func (f *FileSystem) Load(Host) error { return nil }

// Invoke implements Plugin.
func (f *FileSystem) Invoke(ctx context.Context, method string, args map[string]any) (any, error) {
	switch method {
	case "checkStoragePermission":
		return map[string]any{"value": f.perms.Check(permission.StorageRead)}, nil

	case "requestStoragePermission":
		return map[string]any{"value": f.perms.CheckAndRequest(permission.StorageRead)}, nil

	case "selectFolder":
		if !f.perms.Check(permission.StorageRead) {
			f.helper.selectAfterGrant()
			granted, err := storageAccess(f.perms)
			if err != nil {
				f.helper.cancelAfterGrant()
				return nil, err
			}
			if !granted {
				return map[string]any{"awaitingPermission": true}, nil
			}
		}
		if err := f.helper.SelectFolder(); err != nil {
			return nil, err
		}
		return map[string]any{"requestCode": RequestCodeFolderPicker}, nil

	case "getFolders":
		folders, err := f.helper.Folders()
		if err != nil {
			return nil, err
		}
		return map[string]any{"value": folders}, nil

	case "removeFolder":
		id, err := stringArg(args, "id")
		if err != nil {
			return nil, err
		}
		removed, err := f.helper.RemoveFolder(id)
		if err != nil {
			return nil, err
		}
		return map[string]any{"value": removed}, nil

	default:
		return nil, unknownMethod(FileSystemName, method)
	}
}
