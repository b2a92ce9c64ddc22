package plugin

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-shell/internal/infra/store"
)

// DownloaderName is the bridge name of the downloader plugin.
const DownloaderName = "AbsDownloader"

// EventDownloadQueued is emitted when a download request is stored.
const EventDownloadQueued = "onDownloadQueued"

// DownloadStore keeps download requests. *store.DB implements it.
type DownloadStore interface {
	QueueDownload(dl store.Download) error
	Downloads() ([]store.Download, error)
	RemoveDownload(id string) error
}

// Downloader queues download requests. Transfers are run elsewhere.
type Downloader struct {
	store DownloadStore
	perms StoragePermission
	emit  Emitter
}

// NewDownloader creates the downloader plugin.
func NewDownloader(store DownloadStore, perms StoragePermission, emit Emitter) *Downloader {
	return &Downloader{store: store, perms: perms, emit: emit}
}

// Name implements Plugin.
func (d *Downloader) Name() string { return DownloaderName }

// Load implements Plugin.
func (d *Downloader) Load(Host) error { return nil }

// Invoke implements Plugin.
func (d *Downloader) Invoke(ctx context.Context, method string, args map[string]any) (any, error) {
	switch method {
	case "downloadLibraryItem":
		itemID, err := stringArg(args, "libraryItemId")
		if err != nil {
			return nil, err
		}
		granted, err := storageAccess(d.perms)
		if err != nil {
			return nil, err
		}
		if !granted {
			return map[string]any{"awaitingPermission": true}, nil
		}

		dl := store.Download{
			ID:     uuid.NewString(),
			ItemID: itemID,
			Title:  optionalString(args, "title"),
		}
		if err := d.store.QueueDownload(dl); err != nil {
			return nil, err
		}

		log.Info().Str("id", dl.ID).Str("item", itemID).Msg("Download queued")
		d.emit.Emit(EventDownloadQueued, dl)
		return map[string]any{"id": dl.ID}, nil

	case "getDownloads":
		list, err := d.store.Downloads()
		if err != nil {
			return nil, err
		}
		if list == nil {
			list = []store.Download{}
		}
		return map[string]any{"value": list}, nil

	case "cancelDownload":
		id, err := stringArg(args, "id")
		if err != nil {
			return nil, err
		}
		return nil, d.store.RemoveDownload(id)

	default:
		return nil, unknownMethod(DownloaderName, method)
	}
}
