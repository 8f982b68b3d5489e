package migration

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"image/jpeg"
	"image/png"
	"math/rand"
	"strings"
	"time"

	"git.handmade.network/hmn/imghost/src/images"
	"git.handmade.network/hmn/imghost/src/logging"
	"git.handmade.network/hmn/imghost/src/models"
	"git.handmade.network/hmn/imghost/src/website"
	lorem "github.com/HandmadeNetwork/golorem"
	"github.com/spf13/cobra"
	"github.com/teacat/noire"
)

func init() {
	var count int
	var seed int64

	seedCommand := &cobra.Command{
		Use:   "seed",
		Short: "Upload generated sample images for local development",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			svc, closeService, err := website.OpenImageService(ctx)
			if err != nil {
				logging.Fatal().Err(err).Msg("failed to open image service")
			}
			defer closeService()

			if seed == 0 {
				seed = time.Now().UnixNano()
			}
			created, err := Seed(ctx, svc, count, rand.New(rand.NewSource(seed)))
			if err != nil {
				logging.Fatal().Err(err).Int("created", len(created)).Msg("seeding failed")
			}
			fmt.Printf("Done! Uploaded %d sample images.\n", len(created))
		},
	}
	seedCommand.Flags().IntVar(&count, "count", 20, "Number of images to upload")
	seedCommand.Flags().Int64Var(&seed, "seed", 0, "Random seed (0 picks one from the clock)")

	website.WebsiteCommand.AddCommand(seedCommand)
}

var seedFormats = []string{"png", "jpg", "gif"}

// Seed pushes count generated images through the normal upload path, so
// the results are indistinguishable from real uploads.
func Seed(ctx context.Context, svc *images.Service, count int, rng *rand.Rand) ([]*models.Image, error) {
	var created []*models.Image
	for i := 0; i < count; i++ {
		ext := seedFormats[rng.Intn(len(seedFormats))]
		data, err := sampleImage(rng, ext)
		if err != nil {
			return created, err
		}

		img, err := svc.Create(ctx, images.Upload{
			OriginalName: sampleName(ext),
			Size:         int64(len(data)),
			Content:      bytes.NewReader(data),
		})
		if err != nil {
			return created, err
		}
		created = append(created, img)
	}
	return created, nil
}

func sampleName(ext string) string {
	words := make([]string, 2)
	for i := range words {
		words[i] = strings.ToLower(lorem.Word(3, 8))
	}
	return strings.Join(words, "-") + "." + ext
}

// Builds a small two-tone image: a random base colour with a darker band
// across the middle.
func sampleImage(rng *rand.Rand, ext string) ([]byte, error) {
	base := noire.NewHSLA(rng.Float64()*360, 40+rng.Float64()*50, 35+rng.Float64()*30, 1)
	band := base.Shade(0.3)

	const width, height = 64, 48
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	baseRGBA := toRGBA(base)
	bandRGBA := toRGBA(band)
	for y := 0; y < height; y++ {
		c := baseRGBA
		if y >= height/3 && y < 2*height/3 {
			c = bandRGBA
		}
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	var err error
	switch ext {
	case "png":
		err = png.Encode(&buf, img)
	case "jpg", "jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85})
	case "gif":
		err = gif.Encode(&buf, img, &gif.Options{NumColors: len(palette.Plan9)})
	default:
		err = fmt.Errorf("no sample encoder for %q", ext)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func toRGBA(c noire.Color) color.RGBA {
	r, g, b := c.RGB()
	return color.RGBA{R: uint8(r), G: uint8(g), B: uint8(b), A: 255}
}
