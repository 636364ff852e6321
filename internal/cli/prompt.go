package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ncruces/zenity"
	"github.com/rs/zerolog/log"
)

// ErrNoImage is returned when the user picks nothing.
var ErrNoImage = errors.New("no image selected")

// PromptForImage asks for an image path on out and reads the answer from in.
// Surrounding quotes (as added by drag-and-drop into a terminal) are removed.
func PromptForImage(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "Image path: ")

	reader := bufio.NewReader(in)
	input, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		log.Warn().Err(err).Msg("Failed to read input")
		return "", err
	}

	input = strings.Trim(strings.TrimSpace(input), `"'`)
	if input == "" {
		return "", ErrNoImage
	}
	return input, nil
}

// PickImage opens the native file dialog filtered to supported images.
// Cancelling the dialog returns ErrNoImage.
func PickImage() (string, error) {
	selected, err := zenity.SelectFile(
		zenity.Title("Select a dish or menu photo"),
		zenity.FileFilters{
			{
				Name:     "Images",
				Patterns: []string{"*.jpg", "*.jpeg", "*.png"},
			},
		},
	)
	if err != nil {
		if errors.Is(err, zenity.ErrCanceled) {
			return "", ErrNoImage
		}
		return "", fmt.Errorf("file picker failed: %w", err)
	}
	log.Debug().Str("path", selected).Msg("Image picked via native dialog")
	return selected, nil
}
