package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/aerovirt/aerogpu"
	"github.com/aerovirt/aerogpu/config"
	"github.com/kardianos/service"
	"github.com/sirupsen/logrus"
)

var logger service.Logger

type program struct {
	configPath *string
	configTest *bool
	build      string
	control    *aerogpu.Control
}

func (p *program) Start(s service.Service) error {
	// Start should not block.
	logger.Info("AeroGPU service starting.")

	l := logrus.New()
	l.Out = os.Stdout

	c := config.NewC(l)
	err := c.Load(*p.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %s", err)
	}

	p.control, err = aerogpu.Main(c, *p.configTest, p.build, l)
	if err != nil {
		return err
	}

	p.control.Start()
	return nil
}

func (p *program) Stop(s service.Service) error {
	logger.Info("AeroGPU service stopping.")
	p.control.Stop()
	return nil
}

func doService(configPath *string, configTest *bool, build string, serviceFlag *string) {
	if *configPath == "" {
		ex, err := os.Executable()
		if err != nil {
			panic(err)
		}
		*configPath = filepath.Dir(ex) + "/config.yaml"
	}

	svcConfig := &service.Config{
		Name:        "AeroGPU",
		DisplayName: "AeroGPU Adapter Service",
		Description: "AeroGPU paravirtual display adapter daemon",
		Arguments:   []string{"-service", "run", "-config", *configPath},
	}

	prg := &program{
		configPath: configPath,
		configTest: configTest,
		build:      build,
	}

	s, err := service.New(prg, svcConfig)
	if err != nil {
		log.Fatal(err)
	}

	errs := make(chan error, 5)
	logger, err = s.Logger(errs)
	if err != nil {
		log.Fatal(err)
	}

	go func() {
		for {
			err := <-errs
			if err != nil {
				log.Print(err)
			}
		}
	}()

	switch *serviceFlag {
	case "run":
		err = s.Run()
		if err != nil {
			logger.Error(err)
		}
	default:
		err := service.Control(s, *serviceFlag)
		if err != nil {
			log.Printf("Valid actions: %q\n", service.ControlAction)
			log.Fatal(err)
		}
		return
	}
}
