package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/samber/lo"

	"github.com/tez-capital/tezbake/apdu"
	"github.com/tez-capital/tezbake/common"
	"github.com/tez-capital/tezbake/keychain"
	"github.com/tez-capital/tezbake/signer"
)

type signResp struct {
	Signature string `json:"signature"`
}

type hwmJSON struct {
	Level uint32 `json:"level"`
	Round uint32 `json:"round"`
}

type hwmResp struct {
	ChainID string  `json:"chain_id"`
	Main    hwmJSON `json:"main"`
	Test    hwmJSON `json:"test"`
}

// bakingKey is the device's authorized key as Octez addresses it.
type bakingKey struct {
	key    keychain.Key
	scheme signer.Scheme
	pub    []byte
	pkh    string
}

func resolveBakingKey(ctx context.Context, c *common.Client) (bakingKey, error) {
	key, err := c.AuthorizedKey(ctx)
	if err != nil {
		return bakingKey{}, err
	}
	scheme, err := key.Type.Scheme()
	if err != nil {
		return bakingKey{}, err
	}
	pub, err := c.PublicKey(ctx, key)
	if err != nil {
		return bakingKey{}, err
	}
	pkh, err := signer.PublicKeyHash(scheme, pub)
	if err != nil {
		return bakingKey{}, err
	}
	return bakingKey{key: key, scheme: scheme, pub: pub, pkh: pkh}, nil
}

// httpStatus maps a device refusal onto the status Octez expects.
func httpStatus(err error) int {
	if errors.Is(err, common.ErrNoAuthorizedKey) {
		return fiber.StatusNotFound
	}
	sw, ok := common.StatusOf(err)
	if !ok {
		return fiber.StatusInternalServerError
	}
	switch sw {
	case apdu.StatusWrongValues:
		return fiber.StatusConflict
	case apdu.StatusSecurity, apdu.StatusReject:
		return fiber.StatusForbidden
	case apdu.StatusParseError, apdu.StatusWrongLength:
		return fiber.StatusBadRequest
	case apdu.StatusRefDataNotFound:
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}

func fail(c *fiber.Ctx, code int, msg string) error {
	return c.Status(code).JSON(fiber.Map{"error": msg})
}

// buildFiberApp serves the Octez remote signer API. allowed limits the
// addresses served; empty serves whatever key the device has authorized.
func buildFiberApp(client *common.Client, l *slog.Logger, allowed []string) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		IdleTimeout:           60 * time.Second,
		BodyLimit:             1 << 16,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "${time} ${method} ${path} ${status} ${latency}\n",
	}))
	app.Use(func(c *fiber.Ctx) error {
		c.Path(path.Clean(c.Path()))
		return c.Next()
	})

	lookup := func(c *fiber.Ctx) (bakingKey, bool, error) {
		pkh := c.Params("pkh")
		if pkh == "" {
			return bakingKey{}, false, fail(c, fiber.StatusBadRequest, "missing PKH")
		}
		if len(allowed) > 0 && !lo.Contains(allowed, pkh) {
			return bakingKey{}, false, fail(c, fiber.StatusNotFound, "key not found")
		}
		bk, err := resolveBakingKey(c.UserContext(), client)
		if err != nil {
			l.Warn("authorized key lookup failed", slog.Any("err", err))
			return bakingKey{}, false, fail(c, httpStatus(err), err.Error())
		}
		if bk.pkh != pkh {
			return bakingKey{}, false, fail(c, fiber.StatusNotFound, "key not found")
		}
		return bk, true, nil
	}

	// Octez only needs the route to exist.
	app.Get("/authorized_keys", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{})
	})

	app.Get("/keys/:pkh", func(c *fiber.Ctx) error {
		bk, ok, err := lookup(c)
		if !ok {
			return err
		}
		pk, err := signer.EncodePublicKey(bk.scheme, bk.pub)
		if err != nil {
			return fail(c, fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(fiber.Map{"public_key": pk})
	})

	// Body is a JSON string holding the hex payload.
	app.Post("/keys/:pkh", func(c *fiber.Ctx) error {
		var payloadHex string
		if err := c.BodyParser(&payloadHex); err != nil {
			return fail(c, fiber.StatusBadRequest, err.Error())
		}
		raw, err := hex.DecodeString(payloadHex)
		if err != nil {
			return fail(c, fiber.StatusBadRequest, fmt.Sprintf("bad payload: %v", err))
		}

		bk, ok, err := lookup(c)
		if !ok {
			return err
		}

		sig, err := client.Sign(c.UserContext(), bk.key, raw)
		if err != nil {
			l.Warn("sign refused", slog.String("pkh", bk.pkh), slog.Any("err", err))
			return fail(c, httpStatus(err), err.Error())
		}
		encoded, err := signer.EncodeSignature(bk.scheme, sig)
		if err != nil {
			return fail(c, fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(&signResp{Signature: encoded})
	})

	app.Get("/hwm", func(c *fiber.Ctx) error {
		w, err := client.AllWatermarks(c.UserContext())
		if err != nil {
			return fail(c, httpStatus(err), err.Error())
		}
		return c.JSON(hwmResponse(w))
	})

	return app
}

func hwmResponse(w common.Watermarks) hwmResp {
	return hwmResp{
		ChainID: signer.EncodeChainID(uint32(w.ChainID)),
		Main:    hwmJSON{Level: uint32(w.Main.Level), Round: uint32(w.Main.Round)},
		Test:    hwmJSON{Level: uint32(w.Test.Level), Round: uint32(w.Test.Round)},
	}
}
