package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/newaysecurity/cctv-clocking/internal/config"
	"github.com/newaysecurity/cctv-clocking/internal/facedb"
	"github.com/newaysecurity/cctv-clocking/internal/vision"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var employeesCmd = &cobra.Command{
	Use:   "employees",
	Short: "Manage the employee face database",
}

var employeesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered employees",
	RunE:  runEmployeesList,
}

var employeesReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Recompute face embeddings from the reference photos",
	Long: `Scan the faces directory and recompute embeddings for every employee
whose reference photos changed. Requires the face engine to be reachable.`,
	RunE: runEmployeesReload,
}

func init() {
	rootCmd.AddCommand(employeesCmd)
	employeesCmd.AddCommand(employeesListCmd)
	employeesCmd.AddCommand(employeesReloadCmd)
}

func openFaceDB() (*facedb.Database, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}
	engine := vision.NewClient(cfg.Recognition.EngineURL, cfg.Recognition.Method)
	db, err := facedb.New(cfg.Recognition.FacesDir, engine, newLogger())
	if err != nil {
		return nil, nil, fmt.Errorf("opening face template store: %w", err)
	}
	return db, cfg, nil
}

func runEmployeesList(cmd *cobra.Command, args []string) error {
	db, cfg, err := openFaceDB()
	if err != nil {
		return err
	}

	dirs, err := os.ReadDir(cfg.Recognition.FacesDir)
	if err != nil {
		return fmt.Errorf("reading faces directory: %w", err)
	}

	count := 0
	fmt.Printf("%-25s %s\n", "NAME", "PHOTOS")
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		photos, err := countImages(filepath.Join(cfg.Recognition.FacesDir, d.Name()))
		if err != nil {
			continue
		}
		fmt.Printf("%-25s %d\n", d.Name(), photos)
		count++
	}
	fmt.Printf("\n%d employee(s) in %s\n", count, db.Dir())
	return nil
}

func runEmployeesReload(cmd *cobra.Command, args []string) error {
	db, cfg, err := openFaceDB()
	if err != nil {
		return err
	}

	dirs, err := os.ReadDir(cfg.Recognition.FacesDir)
	if err != nil {
		return fmt.Errorf("reading faces directory: %w", err)
	}
	total := 0
	for _, d := range dirs {
		if d.IsDir() {
			total++
		}
	}
	if total == 0 {
		fmt.Println("No employees found, add photo directories to", cfg.Recognition.FacesDir)
		return nil
	}

	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Computing embeddings"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("employees"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)

	updated, err := db.LoadAllProgress(cmd.Context(), func(string) {
		bar.Add(1)
	})
	fmt.Println()
	if err != nil {
		return fmt.Errorf("reloading face templates: %w", err)
	}

	if updated {
		fmt.Printf("Face database updated, %d identities with embeddings\n", db.Count())
	} else {
		fmt.Printf("Face database unchanged, %d identities with embeddings\n", db.Count())
	}
	return nil
}

func countImages(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".jpg", ".jpeg", ".png", ".JPG", ".JPEG", ".PNG":
			n++
		}
	}
	return n, nil
}
