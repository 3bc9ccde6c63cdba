// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	pe "github.com/saferwall/clrmeta"
	"github.com/saferwall/clrmeta/clr"
	"github.com/spf13/cobra"
)

var (
	all         bool
	verbose     bool
	dosHeader   bool
	richHeader  bool
	ntHeader    bool
	directories bool
	sections    bool
	wantCLR     bool

	skipMethodBodies bool
	showCert         bool
)

func prettyPrint(buff []byte) string {
	var prettyJSON bytes.Buffer
	if err := json.Indent(&prettyJSON, buff, "", "\t"); err != nil {
		log.Println("JSON parse error: ", err)
		return string(buff)
	}
	return prettyJSON.String()
}

func isDirectory(path string) bool {
	fileInfo, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fileInfo.IsDir()
}

func openPE(filename string) (*pe.File, error) {
	f, err := pe.New(filename, &pe.Options{})
	if err != nil {
		return nil, err
	}
	if err := f.Parse(); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func dumpOne(filename string, cmd *cobra.Command) {
	log.Printf("Processing filename %s", filename)

	file, err := openPE(filename)
	if err != nil {
		log.Printf("Error while parsing file: %s, reason: %s", filename, err)
		return
	}
	defer file.Close()

	if wantDosHeader, _ := cmd.Flags().GetBool("dosheader"); wantDosHeader {
		b, _ := json.Marshal(file.DOSHeader)
		fmt.Println(prettyPrint(b))
	}
	if wantRich, _ := cmd.Flags().GetBool("rich"); wantRich {
		b, _ := json.Marshal(file.RichHeader)
		fmt.Println(prettyPrint(b))
	}
	if wantNtHeader, _ := cmd.Flags().GetBool("ntheader"); wantNtHeader {
		b, _ := json.Marshal(file.NtHeader)
		fmt.Println(prettyPrint(b))
	}
	if wantDirs, _ := cmd.Flags().GetBool("directories"); wantDirs {
		var b []byte
		switch oh := file.NtHeader.OptionalHeader.(type) {
		case pe.ImageOptionalHeader32:
			b, _ = json.Marshal(oh.DataDirectory)
		case pe.ImageOptionalHeader64:
			b, _ = json.Marshal(oh.DataDirectory)
		}
		fmt.Println(prettyPrint(b))
	}
	if wantSections, _ := cmd.Flags().GetBool("sections"); wantSections {
		b, _ := json.Marshal(file.Sections)
		fmt.Println(prettyPrint(b))
	}
	if wantClr, _ := cmd.Flags().GetBool("clr"); wantClr {
		b, _ := json.Marshal(file.CLR)
		fmt.Println(prettyPrint(b))
	}
	if wantCert, _ := cmd.Flags().GetBool("cert"); wantCert {
		b, _ := json.Marshal(file.Certificates)
		fmt.Println(prettyPrint(b))
	}
	if wantAll, _ := cmd.Flags().GetBool("all"); wantAll {
		b, _ := json.Marshal(file)
		fmt.Println(prettyPrint(b))
	}
}

func dump(cmd *cobra.Command, args []string) {
	walkFiles(args[0], func(path string) { dumpOne(path, cmd) })
}

func resolveOne(filename string, cmd *cobra.Command) {
	log.Printf("Resolving filename %s", filename)

	file, err := openPE(filename)
	if err != nil {
		log.Printf("Error while parsing file: %s, reason: %s", filename, err)
		return
	}
	defer file.Close()

	if !file.HasCLR {
		log.Printf("%s carries no CLI metadata", filename)
		return
	}

	skip, _ := cmd.Flags().GetBool("skip-bodies")
	res, err := clr.Resolve(file, clr.Options{SkipMethodBodies: skip})
	if err != nil {
		log.Printf("Error while resolving CLI metadata: %s, reason: %s", filename, err)
		return
	}

	wantJSON, _ := cmd.Flags().GetBool("json")
	if wantJSON {
		b, _ := json.Marshal(res)
		fmt.Println(prettyPrint(b))
		return
	}

	fmt.Printf("module:       %s\n", res.Module.Name)
	if res.Assembly != nil {
		fmt.Printf("assembly:     %s %v\n", res.Assembly.Name, res.Assembly.Version)
	}
	fmt.Printf("type defs:    %d\n", len(res.TypeDefs))
	fmt.Printf("type refs:    %d\n", len(res.TypeRefs))
	fmt.Printf("assembly refs: %d\n", len(res.AssemblyRefs))
	fmt.Printf("exported types: %d\n", len(res.ExportedTypes))
	if res.EntryPoint != nil {
		fmt.Printf("entry point kind: %d\n", res.EntryPoint.Kind)
	}

	wantCertCheck, _ := cmd.Flags().GetBool("cert")
	if wantCertCheck && res.Assembly != nil {
		fmt.Printf("strong-name public key (%d bytes), Authenticode cert subject: %s\n",
			len(res.Assembly.PublicKey), file.Certificates.Info.Subject)
	}
}

func resolve(cmd *cobra.Command, args []string) {
	walkFiles(args[0], func(path string) { resolveOne(path, cmd) })
}

func walkFiles(filePath string, fn func(path string)) {
	if !isDirectory(filePath) {
		fn(filePath)
		return
	}
	fileList := []string{}
	filepath.Walk(filePath, func(path string, f os.FileInfo, err error) error {
		if err == nil && !isDirectory(path) {
			fileList = append(fileList, path)
		}
		return nil
	})
	for _, file := range fileList {
		fn(file)
	}
}

func main() {
	var rootCmd = &cobra.Command{
		Use:   "clrdump",
		Short: "A PE/.NET CLI metadata parser",
		Long:  "Parses PE32/PE32+ images and resolves ECMA-335 CLI metadata, built by Saferwall",
	}

	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version number",
		Long:  "Print version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("You are using version 0.0.1")
		},
	}

	var dumpCmd = &cobra.Command{
		Use:   "dump",
		Short: "Dumps the file",
		Long:  "Dumps interesting structures of the Portable Executable file",
		Args:  cobra.MinimumNArgs(1),
		Run:   dump,
	}

	var resolveCmd = &cobra.Command{
		Use:   "resolve",
		Short: "Resolves ECMA-335 CLI metadata",
		Long:  "Runs the full metadata resolver over a .NET image and prints a summary or the full object graph",
		Args:  cobra.MinimumNArgs(1),
		Run:   resolve,
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(resolveCmd)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	dumpCmd.Flags().BoolVarP(&dosHeader, "dosheader", "", false, "Dump DOS header")
	dumpCmd.Flags().BoolVarP(&richHeader, "rich", "", false, "Dump Rich header")
	dumpCmd.Flags().BoolVarP(&ntHeader, "ntheader", "", false, "Dump NT header")
	dumpCmd.Flags().BoolVarP(&directories, "directories", "", false, "Dump data directories")
	dumpCmd.Flags().BoolVarP(&sections, "sections", "", false, "Dump section headers")
	dumpCmd.Flags().BoolVarP(&wantCLR, "clr", "", false, "Dump raw .NET metadata tables")
	dumpCmd.Flags().BoolVarP(&showCert, "cert", "", false, "Dump the Authenticode certificate")
	dumpCmd.Flags().BoolVarP(&all, "all", "", false, "Dump everything")

	resolveCmd.Flags().Bool("json", false, "Print the full resolved object graph as JSON instead of a summary")
	resolveCmd.Flags().BoolVarP(&skipMethodBodies, "skip-bodies", "", false, "Skip method body / IL decoding")
	resolveCmd.Flags().BoolVarP(&showCert, "cert", "", false, "Cross-check the assembly's strong-name public key against its Authenticode certificate")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
