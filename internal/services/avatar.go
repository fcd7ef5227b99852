package services

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"image/color"
	"math"
	"strings"
	"unicode"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"

	"github.com/slotter-org/roomchat-backend/internal/logger"
	"github.com/slotter-org/roomchat-backend/internal/types"
)

// AvatarService renders initials avatars and uploads them to the bucket.
type AvatarService interface {
	CreateAndUploadUserAvatar(ctx context.Context, user *types.User) error
	CreateAndUploadRoomAvatar(ctx context.Context, room *types.Room) error
	GenerateInitialsAvatar(name string) (bytes.Buffer, error)
}

type avatarService struct {
	log           *logger.Logger
	bucketService BucketService
	bgColors      []color.NRGBA
	fontFace      font.Face
	thumbSize     int
}

const avatarCanvas = 512

var defaultAvatarColors = []color.NRGBA{
	{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
	{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff},
	{R: 0xd6, G: 0x27, B: 0x28, A: 0xff},
	{R: 0x94, G: 0x67, B: 0xbd, A: 0xff},
	{R: 0x8c, G: 0x56, B: 0x4b, A: 0xff},
	{R: 0xe3, G: 0x77, B: 0xc2, A: 0xff},
	{R: 0x17, G: 0xbe, B: 0xcf, A: 0xff},
	{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff},
}

func NewAvatarService(log *logger.Logger, bucketService BucketService, thumbSize int) (AvatarService, error) {
	serviceLog := log.With("service", "AvatarService")

	face, err := loadFontFace(gobold.TTF, 206)
	if err != nil {
		return nil, fmt.Errorf("could not load avatar font: %w", err)
	}
	if thumbSize <= 0 || thumbSize > avatarCanvas {
		thumbSize = 128
	}
	return &avatarService{
		log:           serviceLog,
		bucketService: bucketService,
		bgColors:      defaultAvatarColors,
		fontFace:      face,
		thumbSize:     thumbSize,
	}, nil
}

func (as *avatarService) CreateAndUploadUserAvatar(ctx context.Context, user *types.User) error {
	buf, err := as.GenerateInitialsAvatar(user.Username)
	if err != nil {
		return err
	}
	bucketKey := fmt.Sprintf("user_avatars/%s.png", user.ID.String())
	if err := as.bucketService.UploadFile(ctx, bucketKey, "image/png", bytes.NewReader(buf.Bytes())); err != nil {
		return fmt.Errorf("Failed to upload user avatar: %w", err)
	}
	user.AvatarBucketKey = bucketKey
	user.AvatarURL = as.bucketService.GetPublicURL(bucketKey)
	return nil
}

func (as *avatarService) CreateAndUploadRoomAvatar(ctx context.Context, room *types.Room) error {
	buf, err := as.GenerateInitialsAvatar(room.Name)
	if err != nil {
		return err
	}
	bucketKey := fmt.Sprintf("room_avatars/%s.png", room.ID.String())
	if err := as.bucketService.UploadFile(ctx, bucketKey, "image/png", bytes.NewReader(buf.Bytes())); err != nil {
		return fmt.Errorf("Failed to upload room avatar: %w", err)
	}
	room.AvatarBucketKey = bucketKey
	room.AvatarURL = as.bucketService.GetPublicURL(bucketKey)
	return nil
}

// GenerateInitialsAvatar draws a round avatar with up to two initials. The
// background color is stable per name.
func (as *avatarService) GenerateInitialsAvatar(name string) (bytes.Buffer, error) {
	const size = avatarCanvas
	var buf bytes.Buffer

	//1) Create drawing context with a circular mask
	dc := gg.NewContext(size, size)
	dc.DrawCircle(float64(size)/2, float64(size)/2, float64(size)/2)
	dc.Clip()

	//2) Solid background with a lighter inner ring
	base := as.colorFor(name)
	dc.SetColor(base)
	dc.DrawRectangle(0, 0, float64(size), float64(size))
	dc.Fill()
	dc.SetColor(lightenOrDarken(base, 0.15))
	dc.SetLineWidth(18)
	dc.DrawCircle(float64(size)/2, float64(size)/2, float64(size)/2-24)
	dc.Stroke()

	//3) Initials, centered
	initials := computeInitials(name)
	dc.SetFontFace(as.fontFace)
	dc.SetColor(color.White)
	dc.DrawStringAnchored(initials, float64(size)/2, float64(size)/2, 0.5, 0.35)

	//4) Downscale to thumbnail and encode
	thumb := imaging.Resize(dc.Image(), as.thumbSize, as.thumbSize, imaging.Lanczos)
	if err := imaging.Encode(&buf, thumb, imaging.PNG); err != nil {
		return buf, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf, nil
}

func (as *avatarService) colorFor(name string) color.NRGBA {
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(name)))
	return as.bgColors[int(h.Sum32()%uint32(len(as.bgColors)))]
}

// computeInitials takes the first letter of the first two words, or the
// first two letters of a single word.
func computeInitials(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	switch len(words) {
	case 0:
		return "?"
	case 1:
		r := []rune(words[0])
		if len(r) == 1 {
			return strings.ToUpper(string(r))
		}
		return strings.ToUpper(string(r[:2]))
	default:
		return strings.ToUpper(string([]rune(words[0])[:1]) + string([]rune(words[1])[:1]))
	}
}

func lightenOrDarken(c color.NRGBA, fraction float64) color.NRGBA {
	clamp := func(v float64) uint8 {
		return uint8(math.Max(0, math.Min(255, v)))
	}
	delta := 255.0 * fraction
	return color.NRGBA{
		R: clamp(float64(c.R) + delta),
		G: clamp(float64(c.G) + delta),
		B: clamp(float64(c.B) + delta),
		A: c.A,
	}
}

func loadFontFace(ttf []byte, size float64) (font.Face, error) {
	parsedFont, err := truetype.Parse(ttf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TTF: %w", err)
	}
	return truetype.NewFace(parsedFont, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	}), nil
}
