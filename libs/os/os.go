package os

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	srbytes "github.com/232425wxy/dactr/libs/bytes"
	"github.com/232425wxy/dactr/libs/log"
)

// TrapSignal 在后台等待 SIGINT 或者 SIGTERM，收到信号后先调用 cb（通常是停止节点、关闭数据库），
// 然后以状态码 0 退出进程
func TrapSignal(logger log.CRLogger, cb func()) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-c
		logger.Infow("Captured signal, exiting", "signal", sig.String())
		if cb != nil {
			cb()
		}
		os.Exit(0)
	}()
}

// EnsureDirs 依次创建 dirs 中不存在的目录，任何一个路径已经存在但不是目录时返回错误
func EnsureDirs(mode os.FileMode, dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, mode); err != nil {
			return fmt.Errorf("could not create directory %q: %w", dir, err)
		}
	}
	return nil
}

// FileExists 判断 filePath 是否存在
func FileExists(filePath string) bool {
	_, err := os.Stat(filePath)
	return !os.IsNotExist(err)
}

// ReadHexFile 读取一个保存了 16 进制编码数据的文件，例如 encode-tx 输出的交易，
// 文件首尾的空白以及 "0x" 前缀会被忽略
func ReadHexFile(filePath string) (srbytes.HexBytes, error) {
	bz, err := ioutil.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	hb, err := srbytes.FromString(string(bz))
	if err != nil {
		return nil, fmt.Errorf("%s: invalid hex: %w", filePath, err)
	}
	return hb, nil
}

// WriteFileAtomic 先把 contents 写进同一目录下的临时文件，再重命名为 filePath，
// 写到一半失败时不会留下不完整的 config.toml
func WriteFileAtomic(filePath string, contents []byte, mode os.FileMode) error {
	f, err := ioutil.TempFile(filepath.Dir(filePath), "."+filepath.Base(filePath)+".tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := f.Write(contents); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp, mode); err != nil {
		return err
	}
	return os.Rename(tmp, filePath)
}
