package stores

import (
	"os"

	"github.com/sirupsen/logrus"

	"meme-composer/core"
	"meme-composer/stores/aws"
	"meme-composer/stores/filesystem"
	"meme-composer/stores/memory"
	"meme-composer/stores/mongo"
	"meme-composer/stores/sqlstore"
)

// Store is a union interface that includes all record store types.
type Store interface {
	core.MemeStore
	core.UserStore
}

func localStoragePath() string {
	basePath := os.Getenv("LOCAL_STORAGE_PATH")
	if basePath == "" {
		basePath = "./data" // Default path
	}
	return basePath
}

// GetStore builds the record store selected by STORAGE_TYPE.
func GetStore() Store {
	storageType := os.Getenv("STORAGE_TYPE")
	var store Store

	storageField := logrus.Fields{
		"storageType": storageType,
	}

	switch storageType {
	case "filesystem":
		basePath := localStoragePath()
		storageField["basePath"] = basePath
		store = filesystem.NewStore(basePath)
	case "sqlite", "postgres", "mysql":
		dataSourceName := os.Getenv("DATA_SOURCE_NAME")
		if dataSourceName == "" {
			if storageType != "sqlite" {
				logrus.Fatalf("DATA_SOURCE_NAME environment variable must be set for %s storage type", storageType)
			}
			dataSourceName = "memes.db" // Default filename
		}
		storageField["dataSourceName"] = dataSourceName
		store = sqlstore.NewStore(sqlstore.Dialect(storageType), dataSourceName)
	case "mongo":
		uri := os.Getenv("MONGO_URI")
		if uri == "" {
			logrus.Fatal("MONGO_URI environment variable must be set for mongo storage type")
		}
		database := os.Getenv("MONGO_DATABASE")
		storageField["database"] = database
		store = mongo.NewStore(uri, database)
	default:
		store = memory.NewStore()
		storageField["storageType"] = "in-memory"
	}
	logrus.WithFields(storageField).Info("Use storage")
	return store
}

// GetBlobStore builds the raster store selected by BLOB_STORAGE_TYPE.
func GetBlobStore() core.BlobStore {
	storageType := os.Getenv("BLOB_STORAGE_TYPE")
	var store core.BlobStore

	storageField := logrus.Fields{
		"blobStorageType": storageType,
	}

	switch storageType {
	case "filesystem":
		basePath := localStoragePath()
		storageField["basePath"] = basePath
		store = filesystem.NewBlobStore(basePath)
	case "s3":
		bucketName := os.Getenv("S3_BUCKET_NAME")
		if bucketName == "" {
			logrus.Fatal("S3_BUCKET_NAME environment variable must be set for s3 storage type")
		}
		storageField["bucketName"] = bucketName
		store = aws.NewBlobStore(bucketName)
	default:
		store = memory.NewBlobStore()
		storageField["blobStorageType"] = "in-memory"
	}
	logrus.WithFields(storageField).Info("Use blob storage")
	return store
}
