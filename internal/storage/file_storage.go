// internal/storage/file_storage.go
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileStorage 提供文件存储服务
type FileStorage struct {
	BaseDir string

	// 并发控制
	fileLocks sync.Map // 文件级别锁 path -> *sync.RWMutex
}

// NewFileStorage 创建文件存储服务
func NewFileStorage(baseDir string) (*FileStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("创建存储目录失败: %w", err)
	}
	return &FileStorage{BaseDir: baseDir}, nil
}

// 获取文件锁
func (fs *FileStorage) getFileLock(fullPath string) *sync.RWMutex {
	value, _ := fs.fileLocks.LoadOrStore(fullPath, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

// resolve 拼接路径并拒绝逃出 BaseDir 的文件名
func (fs *FileStorage) resolve(dirPath, filename string) (string, error) {
	if filename == "" || strings.ContainsAny(filename, `/\`) || filename == "." || filename == ".." {
		return "", fmt.Errorf("非法文件名: %q", filename)
	}
	fullPath := filepath.Join(fs.BaseDir, dirPath, filename)
	rel, err := filepath.Rel(fs.BaseDir, fullPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("非法路径: %s", filepath.Join(dirPath, filename))
	}
	return fullPath, nil
}

// SaveTextFile 原子写入文本文件，返回完整路径
func (fs *FileStorage) SaveTextFile(dirPath, filename string, content []byte) (string, error) {
	fullPath, err := fs.resolve(dirPath, filename)
	if err != nil {
		return "", err
	}

	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", fmt.Errorf("创建目录失败: %w", err)
	}

	tempPath := fullPath + ".tmp"
	if err := os.WriteFile(tempPath, content, 0644); err != nil {
		return "", fmt.Errorf("保存临时文件失败: %w", err)
	}
	if err := os.Rename(tempPath, fullPath); err != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("保存文件失败: %w", err)
	}

	return fullPath, nil
}

// LoadTextFile 读取文本文件
func (fs *FileStorage) LoadTextFile(dirPath, filename string) ([]byte, error) {
	fullPath, err := fs.resolve(dirPath, filename)
	if err != nil {
		return nil, err
	}

	lock := fs.getFileLock(fullPath)
	lock.RLock()
	defer lock.RUnlock()

	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}
	return data, nil
}

// FileExists 检查文件是否存在
func (fs *FileStorage) FileExists(dirPath, filename string) bool {
	fullPath, err := fs.resolve(dirPath, filename)
	if err != nil {
		return false
	}
	info, err := os.Stat(fullPath)
	return err == nil && !info.IsDir()
}

// DeleteFile 删除文件，不存在时忽略
func (fs *FileStorage) DeleteFile(dirPath, filename string) error {
	fullPath, err := fs.resolve(dirPath, filename)
	if err != nil {
		return err
	}

	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("删除文件失败: %w", err)
	}
	fs.fileLocks.Delete(fullPath)
	return nil
}

// ListFiles 按名称排序列出目录下的文件
func (fs *FileStorage) ListFiles(dirPath string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(fs.BaseDir, dirPath))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("读取目录失败: %w", err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && !strings.HasSuffix(entry.Name(), ".tmp") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}
