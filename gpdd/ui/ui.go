// Copyright 2026 The Gpd-Runtime Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ui implements the interactive terminal status monitor for
// the gpdd CLI.
package ui

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell"

	"github.com/aschulz-kairox/git-push-deploy-daemon/ipc"
)

// Run displays the worker pool until the user quits.  Keys: r requests
// a reload, + and - scale the pool, q or Escape quits.
func Run(c *ipc.Client) error {
	s, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := s.Init(); err != nil {
		return err
	}
	defer s.Fini()

	events := make(chan tcell.Event, 8)
	go func() {
		for {
			ev := s.PollEvent()
			if ev == nil {
				return
			}
			events <- ev
		}
	}()

	t := time.NewTicker(time.Second)
	defer t.Stop()

	var note string
	for {
		draw(s, c, note)
		select {
		case <-t.C:
		case ev := <-events:
			switch ev := ev.(type) {
			case *tcell.EventResize:
				s.Sync()
			case *tcell.EventKey:
				if ev.Key() == tcell.KeyEscape || ev.Key() == tcell.KeyCtrlC {
					return nil
				}
				switch ev.Rune() {
				case 'q':
					return nil
				case 'r':
					note = result("reload", c.Reload())
				case '+':
					note = result("scale-up", c.ScaleUp())
				case '-':
					note = result("scale-down", c.ScaleDown())
				}
			}
		}
	}
}

func result(cmd string, err error) string {
	if err != nil {
		return fmt.Sprintf("%s failed: %v", cmd, err)
	}
	return cmd + " sent"
}

func draw(s tcell.Screen, c *ipc.Client, note string) {
	s.Clear()
	bold := tcell.StyleDefault.Bold(true)
	plain := tcell.StyleDefault

	st, err := c.Status()
	if err != nil {
		puts(s, plain, 0, 0, fmt.Sprintf("status unavailable: %v", err))
		s.Show()
		return
	}

	puts(s, bold, 0, 0, fmt.Sprintf("%s  up %s", st.AppFile,
		fmtDur(time.Since(st.StartTime))))
	puts(s, bold, 0, 2, fmt.Sprintf("%5s %8s %10s %10s",
		"ID", "PID", "STATE", "UPTIME"))
	for i, w := range st.Workers {
		puts(s, plain, 0, 3+i, fmt.Sprintf("%5d %8d %10s %10s",
			w.Id, w.Pid, w.State, fmtDur(time.Since(w.StartTime))))
	}
	y := 4 + len(st.Workers)
	if note != "" {
		puts(s, plain, 0, y, note)
		y += 2
	}
	puts(s, plain.Dim(true), 0, y, "[R]eload  [+] scale up  [-] scale down  [Q]uit")
	s.Show()
}

func puts(s tcell.Screen, style tcell.Style, x, y int, str string) {
	for i, r := range str {
		s.SetContent(x+i, y, r, nil, style)
	}
}

func fmtDur(d time.Duration) string {
	sec := int((d % time.Minute) / time.Second)
	min := int((d % time.Hour) / time.Minute)
	hour := int(d / time.Hour)
	return fmt.Sprintf("%d:%02d:%02d", hour, min, sec)
}
