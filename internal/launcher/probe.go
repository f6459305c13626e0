package launcher

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
)

// DevToolsProbe connects to the DevTools endpoint on port and asks for the
// browser version. Attaching opens a blank target, which closes again when
// the probe context is cancelled.
func DevToolsProbe(ctx context.Context, port int) error {
	allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(ctx, fmt.Sprintf("http://127.0.0.1:%d", port))
	defer cancelAlloc()

	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	defer cancelTask()

	return chromedp.Run(taskCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, _, _, _, err := browser.GetVersion().Do(ctx)
		return err
	}))
}
