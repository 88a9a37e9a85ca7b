package main

import (
	"context"
	"io"
	"net/http"
	"os"

	"github.com/alecthomas/kong"
	"github.com/carlmjohnson/requests"
	"github.com/pkg/errors"
	protectorhttp "github.com/remotesigner/slashing-protector/http"
	"github.com/remotesigner/slashing-protector/protector"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var cli struct {
	DbPath                    string `env:"DB_PATH" description:"Path to the database directory" default:"/slashing-protector-data"`
	Addr                      string `env:"ADDR" description:"Address to listen on" default:":9369"`
	SlashingProtectionEnabled bool   `env:"SLASHING_PROTECTION_ENABLED" description:"Serve slashing-protection decisions; disable only for a degraded, storage-only deployment" default:"true"`

	Serve  serveCmd  `cmd:"" default:"1" help:"Run the slashing-protection HTTP service."`
	Import importCmd `cmd:"" help:"Import an EIP-3076 interchange file into the database."`
	Export exportCmd `cmd:"" help:"Export the database as an EIP-3076 interchange file."`
	Pull   pullCmd   `cmd:"" help:"Fetch an EIP-3076 interchange file by URL and import it."`
}

type serveCmd struct{}

func (c *serveCmd) Run(logger *zap.Logger) error {
	if !cli.SlashingProtectionEnabled {
		logger.Warn("slashing protection is disabled; refusing to serve, per fail-closed policy")
		return errDisabled
	}

	p, err := protector.New(cli.DbPath, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	srv := protectorhttp.NewServer(logger, p)
	logger.Info("listening", zap.String("addr", cli.Addr))
	return http.ListenAndServe(cli.Addr, srv)
}

type importCmd struct {
	File string `arg:"" type:"existingfile" help:"Path to the interchange JSON file to import."`
}

func (c *importCmd) Run(logger *zap.Logger) (err error) {
	p, err := protector.New(cli.DbPath, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, p.Close()) }()

	f, err := os.Open(c.File)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, f.Close()) }()

	logger.Info("importing interchange file", zap.String("path", c.File))
	if err := p.Import(context.Background(), f); err != nil {
		return err
	}
	logger.Info("import complete")
	return nil
}

type exportCmd struct {
	File string `arg:"" help:"Path to write the interchange JSON file to."`
}

func (c *exportCmd) Run(logger *zap.Logger) (err error) {
	p, err := protector.New(cli.DbPath, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, p.Close()) }()

	f, err := os.Create(c.File)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, f.Close()) }()

	logger.Info("exporting interchange file", zap.String("path", c.File))
	if err := p.Export(context.Background(), f); err != nil {
		return err
	}
	logger.Info("export complete")
	return nil
}

type pullCmd struct {
	URL string `arg:"" help:"URL of an interchange JSON document to fetch and import."`
}

func (c *pullCmd) Run(logger *zap.Logger) (err error) {
	p, err := protector.New(cli.DbPath, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, p.Close()) }()

	logger.Info("pulling interchange file", zap.String("url", c.URL))

	pr, pw := io.Pipe()
	fetchErrCh := make(chan error, 1)
	go func() {
		defer pw.Close()
		fetchErrCh <- requests.URL(c.URL).ToWriter(pw).Fetch(context.Background())
	}()

	importErr := p.Import(context.Background(), pr)
	fetchErr := <-fetchErrCh
	if combined := multierr.Combine(fetchErr, importErr); combined != nil {
		return combined
	}
	logger.Info("pull complete")
	return nil
}

var errDisabled = errors.New("slashing protection is disabled")

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx := kong.Parse(&cli)
	ctx.FatalIfErrorf(ctx.Run(logger))
}
