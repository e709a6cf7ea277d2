package storage

import (
	"fmt"
	"path"
	"strings"
)

// ObjectKey addresses an object as container + folder + name. The container
// maps to a bucket; folder and name form the object name inside it.
type ObjectKey struct {
	Container string
	Folder    string // may be empty or nested, e.g. "acme/inbound"
	Name      string
}

func (k ObjectKey) Key() string {
	return JoinKey(k.Container, path.Join(k.Folder, k.Name))
}

// Object returns the object name within the container.
func (k ObjectKey) Object() string {
	return path.Join(k.Folder, k.Name)
}

// ParseKey splits "container/folder.../name".
func ParseKey(key string) (ObjectKey, error) {
	container, object, err := SplitKey(key)
	if err != nil {
		return ObjectKey{}, err
	}
	folder, name := path.Split(object)
	return ObjectKey{Container: container, Folder: strings.TrimSuffix(folder, "/"), Name: name}, nil
}

// SplitKey separates the container from the object name.
func SplitKey(key string) (container, object string, err error) {
	key = strings.TrimPrefix(key, "/")
	container, object, ok := strings.Cut(key, "/")
	if !ok || container == "" || object == "" || strings.HasSuffix(object, "/") {
		return "", "", fmt.Errorf("invalid object key %q: want container/path/name", key)
	}
	return container, object, nil
}

func JoinKey(container, object string) string {
	return container + "/" + strings.TrimPrefix(object, "/")
}

// InFolder returns the key of name placed in folder within the container of key.
func InFolder(key, folder, name string) (string, error) {
	k, err := ParseKey(key)
	if err != nil {
		return "", err
	}
	return ObjectKey{Container: k.Container, Folder: strings.Trim(folder, "/"), Name: name}.Key(), nil
}
