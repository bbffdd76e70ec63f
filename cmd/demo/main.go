package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"tracktap/internal/config"
	ilog "tracktap/internal/log"
	api "tracktap/pkg/api"
	"tracktap/pkg/model"
)

// printNotifier 把捕获结果直接打到标准输出
type printNotifier struct{}

func (printNotifier) EventsCaptured(tab model.TabID, events []model.NormalizedEvent) {
	for _, e := range events {
		fmt.Println("event:", e.Type, "name:", e.Name, "provider:", e.Provider, "tab:", tab)
	}
}

func (printNotifier) DomainChanged(tab model.TabID, domain string) {
	fmt.Println("domain:", domain, "tab:", tab)
}

func main() {
	devtools := os.Getenv("DEVTOOLS_URL")
	if devtools == "" {
		fmt.Println("set DEVTOOLS_URL to a running browser devtools endpoint, e.g. http://127.0.0.1:9222")
		return
	}
	policyPath := os.Getenv("POLICY_FILE")
	if policyPath == "" {
		policyPath = "policy.yaml"
	}

	l := ilog.New(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})))

	pf := config.NewPolicyFile(policyPath, l)
	pcfg, err := pf.Load()
	if err != nil {
		fmt.Println("load policy error:", err)
		return
	}

	svc, err := api.NewService(l, api.Options{Policy: pcfg, AutoAllower: pf})
	if err != nil {
		fmt.Println("create service error:", err)
		return
	}
	defer svc.Close()
	svc.SetNotifier(printNotifier{})

	id, err := svc.StartSession(model.SessionConfig{
		DevToolsURL:       devtools,
		Concurrency:       4,
		BodySizeThreshold: 4 * 1024 * 1024,
		ProcessTimeoutMS:  200,
	})
	if err != nil {
		fmt.Println("start session error:", err)
		return
	}
	defer svc.StopSession(id)

	if err = svc.AttachTarget(id, ""); err != nil {
		fmt.Println("attach target error:", err)
		return
	}
	if err = svc.EnableCapture(id); err != nil {
		fmt.Println("enable capture error:", err)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	fmt.Println("demo running. browse an allowlisted site to collect analytics from", devtools)
	<-ctx.Done()
	time.Sleep(200 * time.Millisecond)
}
