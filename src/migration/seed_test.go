package migration

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math/rand"
	"strings"
	"testing"

	"git.handmade.network/hmn/imghost/src/config"
	"git.handmade.network/hmn/imghost/src/filestore"
	"git.handmade.network/hmn/imghost/src/images"
	"git.handmade.network/hmn/imghost/src/images/imagestest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleImageDecodes(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, ext := range []string{"png", "jpg", "gif"} {
		t.Run(ext, func(t *testing.T) {
			data, err := sampleImage(rng, ext)
			require.Nil(t, err)

			img, format, err := image.Decode(bytes.NewReader(data))
			require.Nil(t, err)
			assert.Equal(t, map[string]string{"png": "png", "jpg": "jpeg", "gif": "gif"}[ext], format)
			assert.Equal(t, 64, img.Bounds().Dx())
			assert.Equal(t, 48, img.Bounds().Dy())
		})
	}

	_, err := sampleImage(rng, "tiff")
	assert.NotNil(t, err)
}

func TestSampleName(t *testing.T) {
	name := sampleName("gif")
	assert.True(t, strings.HasSuffix(name, ".gif"))
	assert.Equal(t, "gif", images.Extension(name))
}

func TestSeed(t *testing.T) {
	files, err := filestore.NewLocal(t.TempDir())
	require.Nil(t, err)
	meta := imagestest.NewMemStore()
	svc := images.NewService(meta, files, config.UploadConfig{
		MaxFileSize:       config.DefaultMaxFileSize,
		AllowedExtensions: config.DefaultAllowedExtensions,
		MaxConcurrent:     1,
	})

	created, err := Seed(context.Background(), svc, 5, rand.New(rand.NewSource(42)))
	require.Nil(t, err)
	assert.Len(t, created, 5)

	count, err := meta.Count(context.Background())
	require.Nil(t, err)
	assert.Equal(t, 5, count)

	report, err := svc.Check(context.Background())
	require.Nil(t, err)
	assert.True(t, report.Consistent())
}
