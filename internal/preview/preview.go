package preview

import (
	"context"
	"errors"
	"io"

	tea "github.com/charmbracelet/bubbletea"
)

// Run shows the preview until ctx is cancelled or the user quits. The
// program does not install its own signal handling; cancellation of ctx is
// the normal way to stop it.
func Run(ctx context.Context, state *State, title string, in io.Reader, out io.Writer) error {
	p := tea.NewProgram(
		NewModel(state, title),
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(out),
		tea.WithoutSignalHandler(),
		tea.WithAltScreen(),
	)

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
