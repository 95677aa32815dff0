//go:build !linux && !darwin

package service

type unsupported struct{}

// NewInstaller returns an installer whose operations fail with ErrUnsupported
func NewInstaller() Installer {
	return unsupported{}
}

func (unsupported) Install([]string) error   { return ErrUnsupported }
func (unsupported) Uninstall() error         { return ErrUnsupported }
func (unsupported) IsInstalled() bool        { return false }
func (unsupported) Start() error             { return ErrUnsupported }
func (unsupported) Stop() error              { return ErrUnsupported }
func (unsupported) Status() (Status, error)  { return Status{}, ErrUnsupported }
func (unsupported) Logs(int) (string, error) { return "", ErrUnsupported }
