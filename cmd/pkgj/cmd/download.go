/*
Copyright © 2018-2024 blacktop
Copyright © 2024 AuthurNero

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/AuthurNero/pkgj/internal/diskfs"
	"github.com/AuthurNero/pkgj/internal/httpsource"
	"github.com/AuthurNero/pkgj/internal/uiprogress"
	"github.com/AuthurNero/pkgj/internal/utils"
	"github.com/AuthurNero/pkgj/pkg/pkgstream"
)

type downloadFlags struct {
	Proxy       string
	Insecure    bool
	SkipAll     bool
	ResumeAll   bool
	RestartAll  bool
	StagingRoot string
	ContentID   string
	RIF         string
	Digest      string
}

var dFlg downloadFlags

// resumeMarker is the sidecar file recording the confirmed download offset
// of an interrupted run, so the next invocation can offer to resume it
// instead of restarting the whole PKG.
const resumeMarker = ".pkgj-resume"

func init() {
	downloadCmd.Flags().StringVar(&dFlg.Proxy, "proxy", "", "HTTP/HTTPS proxy")
	downloadCmd.Flags().BoolVar(&dFlg.Insecure, "insecure", false, "do not verify ssl certs")
	downloadCmd.Flags().BoolVar(&dFlg.SkipAll, "skip-all", false, "always skip resumable downloads")
	downloadCmd.Flags().BoolVar(&dFlg.ResumeAll, "resume-all", false, "always resume resumable downloads")
	downloadCmd.Flags().BoolVar(&dFlg.RestartAll, "restart-all", false, "always restart resumable downloads")
	downloadCmd.Flags().StringVar(&dFlg.StagingRoot, "staging-root", "./pkgs", "directory to stage decrypted packages under")
	downloadCmd.Flags().StringVarP(&dFlg.ContentID, "content-id", "c", "", "PKG content ID (used as the staging subdirectory name)")
	downloadCmd.Flags().StringVar(&dFlg.RIF, "rif", "", "path to a .rif license file to stage as work.bin")
	downloadCmd.Flags().StringVar(&dFlg.Digest, "digest", "", "expected SHA-256 digest of the PKG, hex encoded")
	viper.BindPFlag("download.proxy", downloadCmd.Flags().Lookup("proxy"))
	viper.BindPFlag("download.insecure", downloadCmd.Flags().Lookup("insecure"))
	viper.BindPFlag("download.staging-root", downloadCmd.Flags().Lookup("staging-root"))
}

var downloadCmd = &cobra.Command{
	Use:     "download <url>",
	Short:   "Download and decrypt a PKG from a direct URL",
	Args:    cobra.ExactArgs(1),
	PreRunE: validateDownloadFlags,
	RunE:    runDownload,
}

func validateDownloadFlags(cmd *cobra.Command, args []string) error {
	if dFlg.ContentID == "" {
		return fmt.Errorf("--content-id is required")
	}
	if !utils.IsASCII(dFlg.ContentID) {
		return fmt.Errorf("--content-id must be ASCII")
	}
	if _, err := uuid.Parse(dFlg.ContentID); err == nil {
		return fmt.Errorf("--content-id %q looks like a UUID, not a PKG content ID", dFlg.ContentID)
	}
	return nil
}

func runDownload(cmd *cobra.Command, args []string) error {
	url := args[0]

	root := filepath.Join(viper.GetString("download.staging-root"), dFlg.ContentID)
	fs, err := diskfs.New(root)
	if err != nil {
		return err
	}

	var rif []byte
	if dFlg.RIF != "" {
		rif, err = os.ReadFile(dFlg.RIF)
		if err != nil {
			return fmt.Errorf("cannot read rif file: %w", err)
		}
	}

	var digest []byte
	if dFlg.Digest != "" {
		digest, err = hex.DecodeString(dFlg.Digest)
		if err != nil {
			return fmt.Errorf("--digest must be hex encoded: %w", err)
		}
	}

	resumeOffset, resumeHash, err := resolveResumeOffset(fs, root)
	if err != nil {
		return err
	}

	source := httpsource.New(viper.GetString("download.proxy"), viper.GetBool("download.insecure"), nil)
	bar := uiprogress.New(0)

	sess := pkgstream.NewSession(root, source, fs,
		pkgstream.WithProgress(bar),
		pkgstream.WithLogger(log.Log.WithField("content_id", dFlg.ContentID)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Warn("canceling download, finishing current chunk...")
		cancel()
	}()
	defer signal.Stop(sigCh)

	ok, err := sess.Run(ctx, dFlg.ContentID, url, rif, digest, resumeOffset, resumeHash)
	bar.Done()

	if pkgstream.IsCanceled(err) {
		hashState, hashErr := sess.HashState()
		if hashErr != nil {
			log.WithError(hashErr).Warn("failed to capture resume hash state")
		}
		if writeErr := persistResumeOffset(fs, sess.DownloadOffset(), hashState); writeErr != nil {
			log.WithError(writeErr).Warn("failed to persist resume offset")
		}
		log.Infof("download canceled at offset %d, rerun to resume", sess.DownloadOffset())
		return nil
	}
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("download did not complete")
	}

	if err := fs.Remove(resumeMarker); err != nil {
		log.WithError(err).Debug("failed to remove resume marker")
	}
	log.Info("pkg downloaded and verified")
	return nil
}

// resolveResumeOffset checks for a prior interrupted run and, per the
// --skip-all/--resume-all/--restart-all flags or an interactive prompt,
// decides whether to resume it, restart from zero, or abort. The returned
// hash state, when non-nil, is the marshaled SHA-256 accumulator from the
// prior run and must be threaded into Session.Run alongside the offset.
func resolveResumeOffset(fs *diskfs.FS, root string) (uint64, []byte, error) {
	if !fs.Exists(resumeMarker) {
		return 0, nil, nil
	}

	if dFlg.SkipAll {
		return 0, nil, fmt.Errorf("previous download of %s can be resumed, skipping", root)
	}
	if dFlg.RestartAll {
		log.Info("restarting download from the beginning")
		return 0, nil, nil
	}

	resume := dFlg.ResumeAll
	if !resume {
		choice := ""
		prompt := &survey.Select{
			Message: fmt.Sprintf("Previous download of %s can be resumed:", root),
			Options: []string{"resume", "restart", "abort"},
		}
		if err := survey.AskOne(prompt, &choice); err != nil {
			return 0, nil, err
		}
		switch choice {
		case "resume":
			resume = true
		case "restart":
			resume = false
		default:
			return 0, nil, fmt.Errorf("download aborted")
		}
	}

	if !resume {
		return 0, nil, nil
	}

	offset, hashState, err := readResumeOffset(fs)
	if err != nil {
		return 0, nil, err
	}
	log.Warnf("resuming previous download at offset %d", offset)
	return offset, hashState, nil
}

// readResumeOffset parses the resume marker, a text file whose first line
// is the confirmed download offset and whose optional second line is the
// hex-encoded SHA-256 accumulator state at that offset.
func readResumeOffset(fs *diskfs.FS) (uint64, []byte, error) {
	raw, err := os.ReadFile(filepath.Join(fs.Root, resumeMarker))
	if err != nil {
		return 0, nil, fmt.Errorf("cannot read resume marker: %w", err)
	}
	lines := strings.SplitN(strings.TrimSpace(string(raw)), "\n", 2)
	offset, err := strconv.ParseUint(strings.TrimSpace(lines[0]), 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("corrupt resume marker: %w", err)
	}
	if len(lines) < 2 || strings.TrimSpace(lines[1]) == "" {
		return offset, nil, nil
	}
	hashState, err := hex.DecodeString(strings.TrimSpace(lines[1]))
	if err != nil {
		return 0, nil, fmt.Errorf("corrupt resume marker hash state: %w", err)
	}
	return offset, hashState, nil
}

func persistResumeOffset(fs *diskfs.FS, offset uint64, hashState []byte) error {
	marker := strconv.FormatUint(offset, 10)
	if len(hashState) > 0 {
		marker += "\n" + hex.EncodeToString(hashState)
	}
	return fs.Save(resumeMarker, []byte(marker))
}
