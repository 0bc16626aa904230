package service

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/232425wxy/dactr/libs/log"
)

var (
	// ErrAlreadyStarted 当尝试启动一个正在运行的服务时，会报告此错误
	ErrAlreadyStarted = errors.New("already started")
	// ErrAlreadyStopped 当尝试启动或者关闭一个已经关闭的服务时，会报告此错误
	ErrAlreadyStopped = errors.New("already stopped")
	// ErrNotStarted 当尝试关闭一个没有运行的服务时，会报告此错误
	ErrNotStarted = errors.New("not started")
)

// Service 是可以启动和停止的组件，一个服务只能启动一次、停止一次
type Service interface {
	// Start 启动服务，如果服务已经启动或者已经停止，返回错误，OnStart 返回的错误会原样返回
	Start() error
	OnStart() error

	// Stop 停止服务，OnStop 不能出错
	Stop() error
	OnStop()

	// IsRunning 如果服务正在运行，那么会返回 true
	IsRunning() bool

	// Quit 返回一个 channel，该 channel 会在服务停止时被关闭
	Quit() <-chan struct{}

	String() string

	SetLogger(logger log.CRLogger)
}

// BaseService 实现了 Service 中与具体组件无关的部分，具体的组件嵌入 BaseService，
// 并重写 OnStart 和 OnStop：
//
//	type Producer struct {
//		service.BaseService
//	}
//
//	p := &Producer{}
//	p.BaseService = *service.NewBaseService(logger, "Producer", p)
//
// OnStart 返回错误时服务不会被标记为已启动，可以再次调用 Start。
// 调用者必须确保 Start 和 Stop 不会并发调用
type BaseService struct {
	Logger  log.CRLogger
	name    string
	started uint32 // atomic
	stopped uint32 // atomic
	quit    chan struct{}

	impl Service
}

// NewBaseService 创建一个新的 BaseService，impl 是嵌入它的具体组件
func NewBaseService(logger log.CRLogger, name string, impl Service) *BaseService {
	return &BaseService{
		Logger: logger,
		name:   name,
		quit:   make(chan struct{}),
		impl:   impl,
	}
}

// SetLogger 设置 logger
func (bs *BaseService) SetLogger(l log.CRLogger) {
	bs.Logger = l
}

// Start 调用 impl 的 OnStart，OnStart 失败时回滚到未启动的状态
func (bs *BaseService) Start() error {
	if !atomic.CompareAndSwapUint32(&bs.started, 0, 1) {
		bs.Logger.Debugw(fmt.Sprintf("Not starting %v service -- already started", bs.name))
		return ErrAlreadyStarted
	}
	if atomic.LoadUint32(&bs.stopped) == 1 {
		bs.Logger.Errorw(fmt.Sprintf("Not starting %v service -- already stopped", bs.name))
		atomic.StoreUint32(&bs.started, 0)
		return ErrAlreadyStopped
	}
	bs.Logger.Infow(fmt.Sprintf("Starting %v service", bs.name))
	if err := bs.impl.OnStart(); err != nil {
		atomic.StoreUint32(&bs.started, 0)
		return err
	}
	return nil
}

// OnStart 什么也不做
func (bs *BaseService) OnStart() error { return nil }

// Stop 调用 impl 的 OnStop，然后关闭 quit channel
func (bs *BaseService) Stop() error {
	if !atomic.CompareAndSwapUint32(&bs.stopped, 0, 1) {
		bs.Logger.Debugw(fmt.Sprintf("Stopping %v service (already stopped)", bs.name))
		return ErrAlreadyStopped
	}
	if atomic.LoadUint32(&bs.started) == 0 {
		bs.Logger.Errorw(fmt.Sprintf("Not stopping %v service -- has not been started yet", bs.name))
		atomic.StoreUint32(&bs.stopped, 0)
		return ErrNotStarted
	}
	bs.Logger.Infow(fmt.Sprintf("Stopping %v service", bs.name))
	bs.impl.OnStop()
	close(bs.quit)
	return nil
}

// OnStop 什么也不做
func (bs *BaseService) OnStop() {}

// IsRunning 判断服务是否正在运行
func (bs *BaseService) IsRunning() bool {
	return atomic.LoadUint32(&bs.started) == 1 && atomic.LoadUint32(&bs.stopped) == 0
}

// Wait 阻塞直到服务被停止
func (bs *BaseService) Wait() {
	<-bs.quit
}

// String 返回服务的名字
func (bs *BaseService) String() string {
	return bs.name
}

// Quit 返回服务的 quit channel
func (bs *BaseService) Quit() <-chan struct{} {
	return bs.quit
}
