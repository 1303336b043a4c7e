package vsphere

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/property"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/types"
)

// dsnsMap memoizes object-store namespace-to-uuid path translations,
// write-once per key. It is package-level, so it lives for the whole
// process and is shared by every Client.
var dsnsMap sync.Map

// getFiles implements the datastore browser of spec §4.C: list file
// entries under path, honoring recursive unless the datastore is an
// object-store (vSAN-style) namespace, in which case the search is
// always forced recursive with a widened pattern.
func (c *Client) getFiles(ctx context.Context, dsPath string, recursive bool) ([]string, error) {
	parsed, err := ParseDatastorePath(dsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to parse datastore path %q: %w", dsPath, err)
	}

	ds, dsMo, err := c.findDatastore(ctx, parsed.Datastore)
	if err != nil {
		return nil, err
	}

	browser, err := ds.Browser(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get datastore browser for %s: %w", parsed.Datastore, err)
	}

	isObjectStore := !boolValue(dsMo.Capability.TopLevelDirectoryCreateSupported)

	searchFolderPath := parsed.FolderPath
	searchPattern := parsed.File
	searchRecursive := recursive
	displayTop := parsed.TopLevelFolder

	if isObjectStore && parsed.TopLevelFolder != "" {
		uuidTop, err := c.translateNamespacePath(ctx, dsMo, parsed.TopLevelFolder)
		if err != nil {
			return nil, err
		}
		searchFolderPath = strings.Replace(parsed.FolderPath, parsed.TopLevelFolder, uuidTop, 1)
		searchRecursive = true
		ext := extensionOf(parsed.File)
		searchPattern = "*" + ext
		displayTop = parsed.TopLevelFolder
	} else if searchPattern == "" {
		searchPattern = "*"
	}

	spec := types.HostDatastoreBrowserSearchSpec{
		MatchPattern: []string{searchPattern},
	}

	var task *object.Task
	searchPath := fmt.Sprintf("[%s] %s", parsed.Datastore, searchFolderPath)
	if searchRecursive {
		task, err = browser.SearchDatastoreSubFolders(ctx, searchPath, &spec)
	} else {
		task, err = browser.SearchDatastore(ctx, searchPath, &spec)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to start datastore search %s: %w", searchPath, err)
	}

	info, err := task.WaitForResult(ctx)
	if err != nil {
		return nil, fmt.Errorf("datastore search failed for %s: %w", searchPath, err)
	}

	var results []types.HostDatastoreBrowserSearchResults
	switch r := info.Result.(type) {
	case types.HostDatastoreBrowserSearchResults:
		results = []types.HostDatastoreBrowserSearchResults{r}
	case types.ArrayOfHostDatastoreBrowserSearchResults:
		results = r.HostDatastoreBrowserSearchResults
	}

	var out []string
	for _, res := range results {
		folder := res.FolderPath
		if isObjectStore && displayTop != "" {
			folder = strings.Replace(folder, searchFolderPath, parsed.FolderPath, 1)
		}
		for _, f := range res.File {
			out = append(out, folder+"/"+f.GetFileInfo().Path)
		}
	}
	return out, nil
}

// folderExists reports whether the folder portion of dsPath exists: a
// search of it that succeeds counts as existing even when it returns no
// entries, and a not-found error reports false.
func (c *Client) folderExists(ctx context.Context, dsPath string) (bool, error) {
	parsed, err := ParseDatastorePath(dsPath)
	if err != nil {
		return false, err
	}
	_, err = c.getFiles(ctx, fmt.Sprintf("[%s] %s", parsed.Datastore, parsed.FolderPath), false)
	if err != nil {
		if strings.Contains(err.Error(), "not found") || strings.Contains(err.Error(), "FileNotFound") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// fileExists reports whether dsPath names an existing file.
func (c *Client) fileExists(ctx context.Context, dsPath string) (bool, error) {
	files, err := c.getFiles(ctx, dsPath, false)
	if err != nil {
		if strings.Contains(err.Error(), "not found") || strings.Contains(err.Error(), "FileNotFound") {
			return false, nil
		}
		return false, err
	}
	parsed, err := ParseDatastorePath(dsPath)
	if err != nil {
		return false, err
	}
	for _, f := range files {
		if path.Base(f) == parsed.File {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) findDatastore(ctx context.Context, name string) (*object.Datastore, mo.Datastore, error) {
	datastores, err := c.finder.DatastoreList(ctx, "*")
	if err != nil {
		return nil, mo.Datastore{}, fmt.Errorf("failed to list datastores: %w", err)
	}

	pc := property.DefaultCollector(c.vimClient)
	for _, ds := range datastores {
		var dsMo mo.Datastore
		if err := pc.RetrieveOne(ctx, ds.Reference(), []string{"summary", "capability"}, &dsMo); err != nil {
			continue
		}
		if dsMo.Summary.Name == name {
			return ds, dsMo, nil
		}
	}
	return nil, mo.Datastore{}, fmt.Errorf("datastore %s not found", name)
}

// translateNamespacePath resolves a top-level datastore folder name to
// its on-disk UUID path via convertNamespacePathToUuidPath, memoizing
// the result in the process-wide dsnsMap.
func (c *Client) translateNamespacePath(ctx context.Context, dsMo mo.Datastore, topLevel string) (string, error) {
	key := dsMo.Summary.Name + "/" + topLevel
	if v, ok := dsnsMap.Load(key); ok {
		return v.(string), nil
	}

	dsnsManager := object.NewDatastoreNamespaceManager(c.vimClient)
	uuidPath, err := dsnsManager.ConvertNamespacePathToUuidPath(ctx, c.refs.datacenter, dsMo.Summary.Url+topLevel)
	if err != nil {
		return "", fmt.Errorf("failed to translate namespace path for %s: %w", key, err)
	}

	uuidTop := path.Base(uuidPath)
	dsnsMap.Store(key, uuidTop)
	return uuidTop, nil
}

func extensionOf(file string) string {
	idx := strings.LastIndex(file, ".")
	if idx < 0 {
		return ""
	}
	return file[idx:]
}

func boolValue(b *bool) bool {
	return b != nil && *b
}
