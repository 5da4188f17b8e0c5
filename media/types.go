package media

type AssetType string

const (
	AssetTypeOriginal  AssetType = "original"
	AssetTypeThumbnail AssetType = "thumbnail"
)

// subDirs maps asset types to their directory inside an album's picture dir.
var subDirs = map[AssetType]string{
	AssetTypeOriginal:  "originals",
	AssetTypeThumbnail: "thumbnails",
}
